package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/federation/bridge"
	"github.com/wippyai/federation/bundle"
	"github.com/wippyai/federation/manifest"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the manifest of a bundle or manifest file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			data, err := os.ReadFile(argv[0])
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), data)
		},
	}
}

func inspect(w io.Writer, data []byte) error {
	if bridge.IsWasm(data) {
		sections, err := bundle.Sections(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "wasm module, %d sections\n", len(sections))
		for _, sec := range sections {
			if sec.ID == 0 {
				fmt.Fprintf(w, "  custom %q (%d bytes)\n", sec.Name, len(sec.Payload))
			}
		}
		raw, ok, err := bundle.ReadCustomSection(data, bundle.ManifestSection)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(w, "no embedded manifest")
			return nil
		}
		data = raw
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return err
	}
	printManifest(w, m)
	return nil
}

func printManifest(w io.Writer, m *manifest.Manifest) {
	fmt.Fprintf(w, "name: %s\n", m.Name)
	if paths := m.Paths(); len(paths) > 0 {
		fmt.Fprintln(w, "exposes:")
		for _, p := range paths {
			fmt.Fprintf(w, "  %s -> %s\n", p, m.Exposes[p])
		}
	}
	if decls := m.Decls(); len(decls) > 0 {
		fmt.Fprintln(w, "shared:")
		for _, d := range decls {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
}
