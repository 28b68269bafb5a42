package main

import (
	"fmt"

	"github.com/danmuck/nametransfer/internal/voucher"
	"github.com/spf13/cobra"
)

func newVoucherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Derive and parse voucher token ids",
	}

	var channelID, collection, tokenID, scheme string
	derive := &cobra.Command{
		Use:   "derive",
		Short: "Print the voucher id minted for a name received over a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := voucher.ParseScheme(scheme)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), voucher.Deriver{Scheme: s}.Derive(channelID, collection, tokenID))
			return nil
		},
	}
	derive.Flags().StringVar(&channelID, "channel", "", "local channel id the name arrived on")
	derive.Flags().StringVar(&collection, "collection", "", "origin collection")
	derive.Flags().StringVar(&tokenID, "token", "", "origin token id")
	derive.Flags().StringVar(&scheme, "scheme", string(voucher.SchemePath), "voucher id scheme: path|hash")
	for _, name := range []string{"channel", "collection", "token"} {
		_ = derive.MarkFlagRequired(name)
	}

	parse := &cobra.Command{
		Use:   "parse <voucher-id>",
		Short: "Split a path-scheme voucher id into channel, collection and token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, coll, tok, err := voucher.Parse(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "channel=%s\ncollection=%s\ntoken_id=%s\n", ch, coll, tok)
			return nil
		},
	}

	cmd.AddCommand(derive, parse)
	return cmd
}
