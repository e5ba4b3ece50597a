package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/Masterminds/semver/v3"

	"github.com/wippyai/federation/errors"
)

//go:embed schema.cue
var schemaSource string

// MaxSize bounds the manifest document accepted by Parse.
const MaxSize = 1 << 20

// Manifest describes one federated container.
type Manifest struct {
	Exposes map[string]string       `json:"exposes,omitempty"`
	Shared  map[string]SharedConfig `json:"shared,omitempty"`
	Name    string                  `json:"name"`
}

// SharedConfig is the per-dependency entry of the manifest's shared map.
type SharedConfig struct {
	Version         string `json:"version,omitempty"`
	RequiredVersion string `json:"requiredVersion,omitempty"`
	Singleton       bool   `json:"singleton,omitempty"`
	Eager           bool   `json:"eager,omitempty"`
}

// SharedDecl declares a dependency a participant wants shared.
type SharedDecl struct {
	Name            string
	Version         string
	RequiredVersion string
	Singleton       bool
	Eager           bool
}

func (d SharedDecl) String() string {
	var b strings.Builder
	b.WriteString(d.Name)
	if d.Version != "" {
		b.WriteByte('@')
		b.WriteString(d.Version)
	}
	if d.Singleton {
		b.WriteString(" singleton")
	}
	if d.Eager {
		b.WriteString(" eager")
	}
	return b.String()
}

// Validate checks the declaration on its own.
func (d SharedDecl) Validate() error {
	if d.Name == "" {
		return errors.InvalidManifest("shared dependency name is empty", nil)
	}
	if d.Version != "" {
		if _, err := semver.NewVersion(d.Version); err != nil {
			return errors.InvalidManifest(fmt.Sprintf("shared %q: invalid version %q", d.Name, d.Version), err)
		}
	}
	if d.RequiredVersion != "" {
		if _, err := semver.NewConstraint(d.RequiredVersion); err != nil {
			return errors.InvalidManifest(fmt.Sprintf("shared %q: invalid requiredVersion %q", d.Name, d.RequiredVersion), err)
		}
	}
	return nil
}

// Parse compiles data against the manifest schema and decodes it.
// JSON documents are accepted as-is; CUE syntax is accepted too.
func Parse(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.InvalidManifest("empty manifest", nil)
	}
	if len(data) > MaxSize {
		return nil, errors.InvalidManifest(fmt.Sprintf("manifest is %d bytes, limit %d", len(data), MaxSize), nil)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if schemaValue.Err() != nil {
		return nil, errors.InvalidManifest("compile manifest schema", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename("manifest.json"))
	if userValue.Err() != nil {
		return nil, errors.InvalidManifest("syntax", userValue.Err())
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Manifest"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, errors.InvalidManifest("schema", err)
	}

	var m Manifest
	if err := unified.Decode(&m); err != nil {
		return nil, errors.InvalidManifest("decode", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate enforces the rules the schema cannot express.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return errors.InvalidManifest("container name is empty", nil)
	}
	for path, ref := range m.Exposes {
		if !strings.HasPrefix(path, "./") || len(path) < 3 {
			return errors.InvalidManifest(fmt.Sprintf("exposed path %q must start with ./", path), nil)
		}
		if ref == "" {
			return errors.InvalidManifest(fmt.Sprintf("exposed path %q has an empty module ref", path), nil)
		}
	}
	for _, d := range m.Decls() {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Decls returns the shared declarations sorted by name.
func (m *Manifest) Decls() []SharedDecl {
	decls := make([]SharedDecl, 0, len(m.Shared))
	for name, cfg := range m.Shared {
		decls = append(decls, SharedDecl{
			Name:            name,
			Version:         cfg.Version,
			RequiredVersion: cfg.RequiredVersion,
			Singleton:       cfg.Singleton,
			Eager:           cfg.Eager,
		})
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

// Paths returns the exposed paths sorted.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Exposes))
	for p := range m.Exposes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Encode renders the manifest as JSON.
func (m *Manifest) Encode() ([]byte, error) {
	return json.Marshal(m)
}
