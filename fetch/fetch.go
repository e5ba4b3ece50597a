package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes bounds the size of a fetched bundle.
const DefaultMaxBytes = 64 << 20

// Fetcher retrieves the bytes at a URL. Implementations must honor ctx
// cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, url string) ([]byte, error)

func (f Func) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// HTTP fetches bundles over http and https.
type HTTP struct {
	Client   *http.Client
	Header   http.Header
	MaxBytes int64
}

// NewHTTP returns an HTTP fetcher using client, or a default client when nil.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTP{Client: client, MaxBytes: DefaultMaxBytes}
}

func (h *HTTP) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, Status: resp.Status, Code: resp.StatusCode}
	}

	return readLimited(resp.Body, h.maxBytes())
}

func (h *HTTP) maxBytes() int64 {
	if h.MaxBytes > 0 {
		return h.MaxBytes
	}
	return DefaultMaxBytes
}

// File reads bundles from the local filesystem. It accepts file:// URLs and
// plain paths, optionally rooted at Root.
type File struct {
	Root     string
	MaxBytes int64
}

func (f *File) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := rawURL
	if strings.HasPrefix(rawURL, "file:") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse file url: %w", err)
		}
		path = u.Path
		if path == "" {
			path = u.Opaque
		}
	}
	if f.Root != "" && !strings.HasPrefix(path, "/") {
		path = f.Root + "/" + path
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	return readLimited(fh, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("bundle exceeds %d bytes", limit)
	}
	return data, nil
}

// Mux dispatches to a fetcher by URL scheme. URLs without a scheme use the
// "" entry when present.
type Mux struct {
	schemes map[string]Fetcher
	mu      sync.RWMutex
}

func NewMux() *Mux {
	return &Mux{schemes: make(map[string]Fetcher)}
}

// Default returns a mux serving http, https, file and bare paths.
func Default() *Mux {
	m := NewMux()
	h := NewHTTP(nil)
	f := &File{}
	m.Handle("http", h)
	m.Handle("https", h)
	m.Handle("file", f)
	m.Handle("", f)
	return m
}

func (m *Mux) Handle(scheme string, f Fetcher) {
	m.mu.Lock()
	m.schemes[strings.ToLower(scheme)] = f
	m.mu.Unlock()
}

func (m *Mux) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	scheme := ""
	if i := strings.Index(rawURL, "://"); i > 0 {
		scheme = strings.ToLower(rawURL[:i])
	} else if strings.HasPrefix(rawURL, "file:") {
		scheme = "file"
	}

	m.mu.RLock()
	f, ok := m.schemes[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported url scheme %q", scheme)
	}
	return f.Fetch(ctx, rawURL)
}
