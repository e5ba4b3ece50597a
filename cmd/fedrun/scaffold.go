package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/federation/bundle"
	"github.com/wippyai/federation/manifest"
)

func newScaffoldCmd() *cobra.Command {
	var manifestPath, out, format string
	cmd := &cobra.Command{
		Use:   "scaffold",
		Short: "Generate a placeholder container for a manifest",
		Long: "Generate a container that registers the manifest. Every exposed module\n" +
			"gets a default export returning its index, which is enough to exercise\n" +
			"hosts before the real remote exists.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := readManifest(manifestPath)
			if err != nil {
				return err
			}
			var data []byte
			switch format {
			case "wasm":
				data, err = scaffoldWasm(m)
			case "js":
				data = scaffoldScript(m)
			default:
				return fmt.Errorf("unknown format %q (want wasm or js)", format)
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s container %s to %s\n", format, m.Name, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file (json or cue)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path")
	cmd.Flags().StringVarP(&format, "format", "f", "wasm", "container format: wasm or js")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func scaffoldWasm(m *manifest.Manifest) ([]byte, error) {
	encoded, err := m.Encode()
	if err != nil {
		return nil, err
	}
	b := &bundle.Builder{
		Manifest:      encoded,
		Constants:     map[string]int32{},
		EmbedManifest: true,
	}
	for i, ref := range exposedRefs(m) {
		b.Constants[ref+".default"] = int32(i + 1)
	}
	return b.Build(), nil
}

func scaffoldScript(m *manifest.Manifest) []byte {
	var b strings.Builder
	b.WriteString("federation.register({\n")
	fmt.Fprintf(&b, "  name: %s,\n", strconv.Quote(m.Name))
	b.WriteString("  exposes: {\n")
	for i, p := range m.Paths() {
		fmt.Fprintf(&b, "    %s: function () { return { default: %d }; },\n", strconv.Quote(p), i+1)
	}
	b.WriteString("  },\n")
	if decls := m.Decls(); len(decls) > 0 {
		b.WriteString("  shared: {\n")
		for _, d := range decls {
			fmt.Fprintf(&b, "    %s: { version: %s, singleton: %t },\n",
				strconv.Quote(d.Name), strconv.Quote(d.Version), d.Singleton)
		}
		b.WriteString("  },\n")
	}
	b.WriteString("});\n")
	return []byte(b.String())
}

// exposedRefs returns the distinct module refs in path order.
func exposedRefs(m *manifest.Manifest) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, p := range m.Paths() {
		ref := m.Exposes[p]
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs
}
