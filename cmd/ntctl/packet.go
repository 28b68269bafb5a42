package main

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/spf13/cobra"
)

func newPacketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packet",
		Short: "Encode and decode packet data",
	}

	var kind, collection, tokenID, sender, receiver string
	encode := &cobra.Command{
		Use:   "encode",
		Short: "Print the JSON packet data for a transfer or return",
		RunE: func(cmd *cobra.Command, args []string) error {
			var msg protocol.WireMessage
			switch strings.ToLower(strings.TrimSpace(kind)) {
			case "transfer":
				msg = protocol.NewTransferName(collection, tokenID, sender, receiver)
			case "return":
				msg = protocol.NewReturnName(collection, tokenID, sender, receiver)
			default:
				return fmt.Errorf("unknown packet kind %q: want transfer|return", kind)
			}
			_, body, err := msg.Unpack()
			if err != nil {
				return err
			}
			if err := body.Validate(); err != nil {
				return err
			}
			data, err := protocol.EncodeMessage(msg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	encode.Flags().StringVar(&kind, "kind", "transfer", "message variant: transfer|return")
	encode.Flags().StringVar(&collection, "collection", "", "origin collection")
	encode.Flags().StringVar(&tokenID, "token", "", "origin token id")
	encode.Flags().StringVar(&sender, "sender", "", "sender address on the source chain")
	encode.Flags().StringVar(&receiver, "receiver", "", "receiver address on the destination chain")

	var isBase64 bool
	decode := &cobra.Command{
		Use:   "decode <data>",
		Short: "Decode and validate packet data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := argBytes(args[0], isBase64)
			if err != nil {
				return err
			}
			msg, err := protocol.DecodeMessage(raw)
			if err != nil {
				return err
			}
			variant, body, err := msg.Unpack()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "variant=%s\ncollection=%s\ntoken_id=%s\nsender=%s\nreceiver=%s\n",
				variant, body.Collection, body.TokenID, body.SenderAddr, body.ReceiverAddr)
			if err := body.Validate(); err != nil {
				return err
			}
			return nil
		},
	}
	decode.Flags().BoolVar(&isBase64, "base64", false, "argument is base64 encoded")

	cmd.AddCommand(encode, decode)
	return cmd
}

func newAckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Encode and decode acknowledgements",
	}

	var errMsg string
	encode := &cobra.Command{
		Use:   "encode",
		Short: "Print a success acknowledgement, or an error one with --error",
		RunE: func(cmd *cobra.Command, args []string) error {
			ack := protocol.NewResultAcknowledgement(protocol.SuccessResult)
			if cmd.Flags().Changed("error") {
				ack = protocol.NewErrorAcknowledgement(errMsg)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(ack.Acknowledgement()))
			return nil
		},
	}
	encode.Flags().StringVar(&errMsg, "error", "", "error message carried by the acknowledgement")

	var isBase64 bool
	decode := &cobra.Command{
		Use:   "decode <ack>",
		Short: "Decode an acknowledgement envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := argBytes(args[0], isBase64)
			if err != nil {
				return err
			}
			ack, err := protocol.DecodeAcknowledgement(raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ack.Success() {
				fmt.Fprintf(out, "success result=%s\n", base64.StdEncoding.EncodeToString(ack.Result()))
				return nil
			}
			fmt.Fprintf(out, "error message=%q\n", ack.ErrorMessage())
			return nil
		},
	}
	decode.Flags().BoolVar(&isBase64, "base64", false, "argument is base64 encoded")

	cmd.AddCommand(encode, decode)
	return cmd
}

func argBytes(arg string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return []byte(arg), nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(arg))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}
