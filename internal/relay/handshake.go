package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/host"
	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Path is one linked channel pair between two chains.
type Path struct {
	A            *host.Chain
	B            *host.Chain
	ChannelA     string
	ChannelB     string
	ConnectionID string
}

// LinkOptions are the channel parameters proposed during the handshake.
type LinkOptions struct {
	ConnectionID string
	Order        channel.Order
	Version      string
}

func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		ConnectionID: "connection-0",
		Order:        channel.OrderUnordered,
		Version:      protocol.Version,
	}
}

// Link runs the four-step handshake with default options.
func (r *Relayer) Link(ctx context.Context, a, b *host.Chain) (Path, error) {
	return r.LinkWith(ctx, a, b, DefaultLinkOptions())
}

// LinkWith runs init and try (open step on each side) then ack and confirm
// (connect step on each side). A failure at any step leaves the path
// unregistered.
func (r *Relayer) LinkWith(ctx context.Context, a, b *host.Chain, opts LinkOptions) (Path, error) {
	if strings.TrimSpace(opts.ConnectionID) == "" {
		opts.ConnectionID = DefaultLinkOptions().ConnectionID
	}
	chA, chB := a.NextChannelID(), b.NextChannelID()
	endA := channel.Channel{
		Endpoint:             channel.Endpoint{PortID: a.PortID(), ChannelID: chA},
		CounterpartyEndpoint: channel.Endpoint{PortID: b.PortID(), ChannelID: chB},
		Order:                opts.Order,
		Version:              opts.Version,
		ConnectionID:         opts.ConnectionID,
	}
	endB := channel.Channel{
		Endpoint:             endA.CounterpartyEndpoint,
		CounterpartyEndpoint: endA.Endpoint,
		Order:                opts.Order,
		Version:              opts.Version,
		ConnectionID:         opts.ConnectionID,
	}

	if _, err := a.OpenChannel(ctx, endA, ""); err != nil {
		return Path{}, fmt.Errorf("relay: chan_open_init on %s: %w", a.ChainID(), err)
	}
	version, err := b.OpenChannel(ctx, endB, opts.Version)
	if err != nil {
		return Path{}, fmt.Errorf("relay: chan_open_try on %s: %w", b.ChainID(), err)
	}
	if err := a.ConnectChannel(ctx, endA, version); err != nil {
		return Path{}, fmt.Errorf("relay: chan_open_ack on %s: %w", a.ChainID(), err)
	}
	if err := b.ConnectChannel(ctx, endB, version); err != nil {
		return Path{}, fmt.Errorf("relay: chan_open_confirm on %s: %w", b.ChainID(), err)
	}

	path := Path{A: a, B: b, ChannelA: chA, ChannelB: chB, ConnectionID: opts.ConnectionID}
	r.AddPath(path)
	log.Info().
		Str("chain_a", a.ChainID()).
		Str("channel_a", chA).
		Str("chain_b", b.ChainID()).
		Str("channel_b", chB).
		Str("version", version).
		Msg("relay.Relayer.Link channel open")
	return path, nil
}
