package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"bmscode-go/services/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	var boards bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if boards {
				names := config.Boards()
				sort.Strings(names)
				for _, n := range names {
					fmt.Fprintln(w, n)
				}
				return nil
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = w.Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&boards, "boards", false, "list embedded board names instead")
	return cmd
}
