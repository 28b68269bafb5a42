// Package nametransfer is the name-transfer channel module: it decides what
// happens to a name token when a packet is received, acknowledged or timed out.
//
// Every entry point is a pure decision over the channel registry and the
// packet bytes. Token movements are returned as Instructions for the host to
// execute after the call; nothing here touches a token registry directly.
package nametransfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/observability"
	"github.com/danmuck/nametransfer/internal/voucher"
	"github.com/rs/zerolog/log"
)

// Config is the per-chain module configuration.
type Config struct {
	// VoucherCollection is the token registry holding vouchers minted for
	// names that arrived from other chains.
	VoucherCollection string
	Deriver           voucher.Deriver
}

// Module wires the channel registry to the packet handlers.
type Module struct {
	channels *channel.Manager
	cfg      Config
}

func NewModule(channels *channel.Manager, cfg Config) *Module {
	cfg.VoucherCollection = strings.TrimSpace(cfg.VoucherCollection)
	return &Module{channels: channels, cfg: cfg}
}

func (m *Module) Channels() *channel.Manager {
	return m.channels
}

func (m *Module) VoucherCollection() string {
	return m.cfg.VoucherCollection
}

// VoucherID derives the voucher token id for a name arriving over channelID.
func (m *Module) VoucherID(channelID, collection, tokenID string) string {
	return m.cfg.Deriver.Derive(channelID, collection, tokenID)
}

func (m *Module) voucherCollection() (string, error) {
	if m.cfg.VoucherCollection == "" {
		return "", ErrVoucherCollectionUnset
	}
	return m.cfg.VoucherCollection, nil
}

// OnChanOpen validates the open step and returns the agreed version.
func (m *Module) OnChanOpen(ctx context.Context, ch channel.Channel, counterpartyVersion string) (string, error) {
	version, err := m.channels.Open(ctx, ch, counterpartyVersion)
	observability.RecordHandshake("open", handshakeResult(err))
	if err != nil {
		log.Warn().Err(err).Str("channel", ch.Endpoint.ChannelID).Msg("nametransfer.Module.OnChanOpen rejected")
		return "", err
	}
	return version, nil
}

// OnChanConnect validates again and records the channel.
func (m *Module) OnChanConnect(ctx context.Context, ch channel.Channel, counterpartyVersion string) (Response, error) {
	info, err := m.channels.Connect(ctx, ch, counterpartyVersion)
	observability.RecordHandshake("connect", handshakeResult(err))
	if err != nil {
		log.Warn().Err(err).Str("channel", ch.Endpoint.ChannelID).Msg("nametransfer.Module.OnChanConnect rejected")
		return Response{}, err
	}
	log.Info().
		Str("channel", info.ChannelID).
		Str("counterparty_port", info.CounterpartyEndpoint.PortID).
		Str("counterparty_channel", info.CounterpartyEndpoint.ChannelID).
		Msg("nametransfer.Module.OnChanConnect channel open")
	return Response{Attributes: []Attribute{
		{Key: AttrMethod, Value: "ibc_channel_connect"},
		{Key: AttrChannel, Value: info.ChannelID},
	}}, nil
}

// OnChanClose always fails.
func (m *Module) OnChanClose(ctx context.Context, ch channel.Channel) (Response, error) {
	err := m.channels.Close(ctx, ch.Endpoint.ChannelID)
	observability.RecordHandshake("close", handshakeResult(err))
	return Response{}, err
}

func handshakeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, channel.ErrInvalidIbcVersion):
		return "invalid_version"
	case errors.Is(err, channel.ErrOrderedChannel):
		return "ordered"
	case errors.Is(err, channel.ErrChannelAlreadyExists):
		return "exists"
	case errors.Is(err, channel.ErrChannelClosingNotAllowed):
		return "close_refused"
	default:
		return "error"
	}
}

func wrapChannel(err error, channelID string) error {
	if errors.Is(err, channel.ErrUnknownChannel) {
		return err
	}
	return fmt.Errorf("nametransfer: channel %s: %w", channelID, err)
}
