package main

import (
	"fmt"

	"github.com/danmuck/nametransfer/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write and validate config files",
	}

	var kind, output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = kind + ".toml"
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "network", "config kind: network|node")
	initCmd.Flags().StringVar(&output, "output", "", "output path (defaults to <kind>.toml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate <network.toml>",
		Short: "Validate a network config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadNetworkConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid network %q: chains=%d transfers=%d\n", cfg.Name, len(cfg.Chains), len(cfg.Transfers))
			return nil
		},
	}

	cmd.AddCommand(initCmd, validate)
	return cmd
}
