package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/federation/bundle"
	"github.com/wippyai/federation/manifest"
)

func newPackCmd() *cobra.Command {
	var manifestPath, wasmPath, out string
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Embed a manifest into a wasm bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := readManifest(manifestPath)
			if err != nil {
				return err
			}
			module, err := os.ReadFile(wasmPath)
			if err != nil {
				return err
			}
			encoded, err := m.Encode()
			if err != nil {
				return err
			}
			packed, err := bundle.SetCustomSection(module, bundle.ManifestSection, encoded)
			if err != nil {
				return err
			}
			if out == "" {
				out = wasmPath
			}
			if err := os.WriteFile(out, packed, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %s into %s\n", m.Name, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file (json or cue)")
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "input wasm module")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (defaults to --wasm)")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("wasm")
	return cmd
}

func readManifest(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}
