package resolver

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/wippyai/federation/errors"
)

// Remote is one entry of a static remotes table.
type Remote struct {
	URL       string `toml:"url" mapstructure:"url"`
	Cacheable bool   `toml:"cacheable" mapstructure:"cacheable"`
}

// Table maps script ids to fixed locations.
type Table map[string]Remote

type tableFile struct {
	Remotes Table `toml:"remotes"`
}

// ParseTable decodes a TOML remotes table:
//
//	[remotes.Remote]
//	url = "https://cdn.example.com/remote/remoteEntry.wasm"
//	cacheable = true
func ParseTable(data []byte) (Table, error) {
	var f tableFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse remotes table")
	}
	for id, r := range f.Remotes {
		if r.URL == "" {
			return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("remote %q has no url", id))
		}
	}
	if f.Remotes == nil {
		f.Remotes = Table{}
	}
	return f.Remotes, nil
}

// LoadTable reads a TOML remotes table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read remotes table")
	}
	return ParseTable(data)
}

// Resolver returns a Func serving the table. The table is copied so later
// mutations do not leak into the chain.
func (t Table) Resolver() Func {
	snapshot := make(Table, len(t))
	for id, r := range t {
		snapshot[id] = r
	}
	return func(id string, _ Caller) *Descriptor {
		r, ok := snapshot[id]
		if !ok {
			return nil
		}
		return &Descriptor{ID: id, URL: r.URL, Cacheable: r.Cacheable}
	}
}

// IDs returns the table's ids sorted.
func (t Table) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9_.@-]+$`)

// Template expands {id} and {source} in pattern. Ids containing characters
// that would change the URL structure are declined.
func Template(pattern string, cacheable bool) Func {
	return func(id string, caller Caller) *Descriptor {
		if !safeID.MatchString(id) {
			return nil
		}
		source := caller.SourceContainer
		if source == "" {
			source = "host"
		}
		url := strings.NewReplacer("{id}", id, "{source}", source).Replace(pattern)
		return &Descriptor{ID: id, URL: url, Cacheable: cacheable}
	}
}

// Prefixed consults next only for ids starting with prefix, passing the id
// with the prefix removed. The descriptor keeps the full id.
func Prefixed(prefix string, next Func) Func {
	return func(id string, caller Caller) *Descriptor {
		rest, ok := strings.CutPrefix(id, prefix)
		if !ok || rest == "" {
			return nil
		}
		d := next(rest, caller)
		if d == nil {
			return nil
		}
		out := *d
		out.ID = id
		return &out
	}
}
