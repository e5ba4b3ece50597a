package cache

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store persists bundles between sessions. Only descriptors marked
// cacheable are read from or written to a Store.
type Store interface {
	Get(id string) ([]byte, bool, error)
	Put(id string, data []byte) error
}

// DirStore keeps one file per script id under Dir, named by the SHA-256 of
// the id so arbitrary ids map to safe file names.
type DirStore struct {
	Dir string
}

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{Dir: dir}, nil
}

func (s *DirStore) path(id string) string {
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(s.Dir, hex.EncodeToString(sum[:])+".bundle")
}

func (s *DirStore) Get(id string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Put writes through a temp file and rename so readers never observe a
// partial bundle.
func (s *DirStore) Put(id string, data []byte) error {
	tmp, err := os.CreateTemp(s.Dir, ".bundle-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(id))
}

// MemoryStore is an in-process Store, mostly useful in tests.
type MemoryStore struct {
	data map[string][]byte
	mu   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(id string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[id]
	return d, ok, nil
}

func (s *MemoryStore) Put(id string, data []byte) error {
	s.mu.Lock()
	s.data[id] = data
	s.mu.Unlock()
	return nil
}
