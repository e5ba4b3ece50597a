package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImportCmd(g *globalFlags) *cobra.Command {
	var (
		url  string
		call bool
		args []string
	)
	cmd := &cobra.Command{
		Use:   "import <container> <path> [export]",
		Short: "Load a container and print or call one of its exports",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ctx := cmd.Context()
			export := "default"
			if len(argv) == 3 {
				export = argv[2]
			}

			s, err := g.open(ctx, resolversFor(argv[0], url)...)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			v, err := s.loader.ImportModule(ctx, argv[0], argv[1], export)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !call {
				fmt.Fprintln(out, describe(v))
				return nil
			}
			res, err := invoke(ctx, v, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "bundle URL or path for the container")
	cmd.Flags().BoolVar(&call, "call", false, "call the export")
	cmd.Flags().StringArrayVarP(&args, "arg", "a", nil, "argument for --call (repeatable)")
	return cmd
}
