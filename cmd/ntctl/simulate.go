package main

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/nametransfer/internal/config"
	"github.com/danmuck/nametransfer/internal/sim"
	"github.com/spf13/cobra"
)

func newSimulateCmd() *cobra.Command {
	var networkPath string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a two-chain transfer scenario from a network config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadNetworkConfig(networkPath)
			if err != nil {
				return err
			}
			res, err := sim.Run(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, renderResult(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&networkPath, "network", "network.toml", "network config path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
