package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ntctl",
		Short:         "Name transfer tooling",
		Long:          "Inspects name transfer packets and acknowledgements, derives voucher ids, and runs two-chain simulations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newVoucherCmd(),
		newPacketCmd(),
		newAckCmd(),
		newSimulateCmd(),
		newConfigCmd(),
	)
	return root
}
