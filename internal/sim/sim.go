// Package sim runs a scripted two-chain name transfer network: it builds the
// chains from a network config, links them, seeds genesis names, and relays
// each configured transfer to completion.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/nametransfer/internal/config"
	"github.com/danmuck/nametransfer/internal/host"
	"github.com/danmuck/nametransfer/internal/nametransfer"
	"github.com/danmuck/nametransfer/internal/relay"
	"github.com/danmuck/nametransfer/internal/voucher"
	"github.com/rs/zerolog/log"
)

var ErrNoMinter = errors.New("sim: no collection configured for token")

// Clock is the shared simulated time for both chains and the relayer.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TransferResult is the outcome of one configured transfer.
type TransferResult struct {
	Index    int
	Kind     string
	From     string
	To       string
	Channel  string
	Token    string
	Sequence uint64
	Report   relay.Report
	Err      string
}

// Holding is one token as seen at the end of the run.
type Holding struct {
	Chain string
	host.Token
}

type Result struct {
	Network   string
	ChannelA  string
	ChannelB  string
	Transfers []TransferResult
	Holdings  []Holding
	Events    map[string][]nametransfer.Event
}

// Network is a linked pair of chains and the relayer between them.
type Network struct {
	cfg       config.NetworkConfig
	clock     *Clock
	chains    map[string]*host.Chain
	transport relay.Transport
	relayer   *relay.Relayer
	path      relay.Path
}

// Build constructs and links both chains.
func Build(ctx context.Context, cfg config.NetworkConfig, clock *Clock) (*Network, error) {
	if err := config.ValidateNetworkConfig(cfg); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = NewClock(time.Now())
	}
	n := &Network{cfg: cfg, clock: clock, chains: make(map[string]*host.Chain, 2)}
	for _, cc := range cfg.Chains {
		chain, err := newChain(cc, clock)
		if err != nil {
			return nil, fmt.Errorf("sim: chain %s: %w", cc.ID, err)
		}
		n.chains[cc.ID] = chain
	}

	tcfg := relay.TransportConfig{Driver: cfg.Relay.Transport, NATS: relay.DefaultNATSConfig()}
	if cfg.Relay.NATSURL != "" {
		tcfg.NATS.URL = cfg.Relay.NATSURL
	}
	if cfg.Relay.Stream != "" {
		tcfg.NATS.Stream = cfg.Relay.Stream
	}
	transport, err := relay.OpenTransport(ctx, tcfg)
	if err != nil {
		return nil, err
	}
	n.transport = transport

	rcfg := relay.DefaultConfig()
	rcfg.Backoff.Jitter = false
	n.relayer = relay.New(transport, rcfg)
	n.relayer.SetClock(clock.Now)

	a, b := n.chains[cfg.Chains[0].ID], n.chains[cfg.Chains[1].ID]
	opts := relay.DefaultLinkOptions()
	opts.ConnectionID = cfg.Relay.ConnectionID
	path, err := n.relayer.LinkWith(ctx, a, b, opts)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	n.path = path

	if err := n.seed(); err != nil {
		_ = transport.Close()
		return nil, err
	}
	return n, nil
}

func newChain(cc config.ChainConfig, clock *Clock) (*host.Chain, error) {
	scheme, err := voucher.ParseScheme(cc.VoucherScheme)
	if err != nil {
		return nil, err
	}
	timeout, err := config.ParseDuration(cc.PacketTimeout)
	if err != nil {
		return nil, err
	}
	hc := host.DefaultConfig(cc.ID)
	if cc.PortID != "" {
		hc.PortID = cc.PortID
	}
	if cc.ModuleAddress != "" {
		hc.ModuleAddress = cc.ModuleAddress
	}
	if cc.VoucherCollection != "" {
		hc.VoucherCollection = cc.VoucherCollection
	}
	if timeout > 0 {
		hc.PacketTimeout = timeout
	}
	hc.VoucherScheme = scheme
	hc.Now = clock.Now
	return host.NewChain(hc)
}

func (n *Network) seed() error {
	minters := make(map[string]string, len(n.cfg.Collections))
	for _, c := range n.cfg.Collections {
		if err := n.chains[c.Chain].Registry().CreateCollection(c.Contract, c.Minter); err != nil {
			return err
		}
		minters[c.Chain+"/"+c.Contract] = c.Minter
	}
	for _, tok := range n.cfg.Tokens {
		minter, ok := minters[tok.Chain+"/"+tok.Contract]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrNoMinter, tok.Chain, tok.Contract)
		}
		if err := n.chains[tok.Chain].Registry().Mint(minter, tok.Contract, tok.TokenID, tok.Owner); err != nil {
			return err
		}
	}
	return nil
}

func (n *Network) Chain(id string) *host.Chain {
	return n.chains[id]
}

func (n *Network) Path() relay.Path {
	return n.path
}

func (n *Network) Relayer() *relay.Relayer {
	return n.relayer
}

func (n *Network) Close() error {
	return n.transport.Close()
}

func (n *Network) localChannel(chainID string) (string, string) {
	if chainID == n.path.A.ChainID() {
		return n.path.ChannelA, n.path.B.ChainID()
	}
	return n.path.ChannelB, n.path.A.ChainID()
}

// Transfer sends one configured transfer and relays until idle. A send
// failure is recorded on the result rather than aborting the run.
func (n *Network) Transfer(ctx context.Context, index int, tr config.TransferConfig) (TransferResult, error) {
	src := n.chains[tr.From]
	channelID, to := n.localChannel(tr.From)
	res := TransferResult{
		Index:   index,
		Kind:    tr.Kind,
		From:    tr.From,
		To:      to,
		Channel: channelID,
		Token:   tr.Collection + "/" + tr.TokenID,
	}
	timeout, err := config.ParseDuration(tr.Timeout)
	if err != nil {
		return res, err
	}
	req := host.SendRequest{
		ChannelID:  channelID,
		Collection: tr.Collection,
		TokenID:    tr.TokenID,
		Sender:     tr.Sender,
		Receiver:   tr.Receiver,
		Timeout:    timeout,
	}

	var pkt nametransfer.Packet
	if tr.Kind == config.TransferKindReturn {
		pkt, err = src.SendReturn(ctx, req)
	} else {
		pkt, err = src.SendTransfer(ctx, req)
	}
	if err != nil {
		res.Err = err.Error()
		log.Warn().Err(err).Int("transfer", index).Str("kind", tr.Kind).Msg("sim.Network.Transfer send failed")
		return res, nil
	}
	res.Sequence = pkt.Sequence

	if tr.Expire {
		n.clock.Advance(time.Duration(int64(pkt.TimeoutTimestamp)-n.clock.Now().UnixNano()) + time.Second)
	}
	rep, err := n.relayer.Drain(ctx, n.cfg.Relay.MaxSteps)
	res.Report = rep
	if err != nil {
		return res, err
	}
	log.Info().
		Int("transfer", index).
		Str("kind", tr.Kind).
		Str("from", tr.From).
		Uint64("sequence", pkt.Sequence).
		Int("acknowledged", rep.Acknowledged).
		Int("timed_out", rep.TimedOut).
		Msg("sim.Network.Transfer relayed")
	return res, nil
}

// Holdings lists every token on both chains ordered by chain then contract.
func (n *Network) Holdings() []Holding {
	ids := make([]string, 0, len(n.chains))
	for id := range n.chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []Holding
	for _, id := range ids {
		reg := n.chains[id].Registry()
		for _, contract := range reg.Collections() {
			tokens, err := reg.Tokens(contract)
			if err != nil {
				continue
			}
			for _, tok := range tokens {
				out = append(out, Holding{Chain: id, Token: tok})
			}
		}
	}
	return out
}

// Run builds the network, runs every configured transfer in order, and
// reports the final holdings.
func Run(ctx context.Context, cfg config.NetworkConfig, clock *Clock) (Result, error) {
	n, err := Build(ctx, cfg, clock)
	if err != nil {
		return Result{}, err
	}
	defer n.Close()

	res := Result{
		Network:  cfg.Name,
		ChannelA: cfg.Chains[0].ID + "/" + n.path.ChannelA,
		ChannelB: cfg.Chains[1].ID + "/" + n.path.ChannelB,
		Events:   make(map[string][]nametransfer.Event, 2),
	}
	for i, tr := range cfg.Transfers {
		tres, err := n.Transfer(ctx, i, tr)
		res.Transfers = append(res.Transfers, tres)
		if err != nil {
			return res, err
		}
	}
	res.Holdings = n.Holdings()
	for id, c := range n.chains {
		res.Events[id] = c.Events()
	}
	return res, nil
}
