// Package host is an in-memory chain that hosts the name-transfer module.
//
// It owns the token registry, runs the module entry points one invocation at
// a time, executes the returned instructions atomically as the module
// account, and keeps the packet bookkeeping (commitments, receipts, written
// acknowledgements) that makes ack and timeout mutually exclusive.
package host

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/nametransfer"
	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/danmuck/nametransfer/internal/store"
	"github.com/danmuck/nametransfer/internal/voucher"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPortID            = "wasm.nametransfer"
	DefaultModuleAddress     = "nametransfer-module"
	DefaultVoucherCollection = "name-vouchers"
	DefaultPacketTimeout     = 10 * time.Minute
)

// Config describes one chain.
type Config struct {
	ChainID           string
	PortID            string
	ModuleAddress     string
	VoucherCollection string
	VoucherScheme     voucher.Scheme
	PacketTimeout     time.Duration
	Store             store.Store
	Now               func() time.Time
}

func DefaultConfig(chainID string) Config {
	return Config{
		ChainID:           chainID,
		PortID:            DefaultPortID,
		ModuleAddress:     DefaultModuleAddress,
		VoucherCollection: DefaultVoucherCollection,
		VoucherScheme:     voucher.SchemePath,
		PacketTimeout:     DefaultPacketTimeout,
	}
}

type packetKey struct {
	channelID string
	sequence  uint64
}

// Chain hosts one module instance.
type Chain struct {
	cfg      Config
	module   *nametransfer.Module
	registry *Registry

	// txMu serializes invocations; each entry point runs as one transaction.
	txMu sync.Mutex

	mu          sync.RWMutex
	nextChannel int
	nextSeq     map[string]uint64
	commitments map[packetKey]nametransfer.Packet
	receipts    map[packetKey][]byte
	events      []nametransfer.Event
}

func NewChain(cfg Config) (*Chain, error) {
	cfg.ChainID = strings.TrimSpace(cfg.ChainID)
	if cfg.ChainID == "" {
		return nil, fmt.Errorf("%w: chain id required", ErrInvalidRequest)
	}
	if strings.TrimSpace(cfg.PortID) == "" {
		cfg.PortID = DefaultPortID
	}
	if strings.TrimSpace(cfg.ModuleAddress) == "" {
		cfg.ModuleAddress = DefaultModuleAddress
	}
	if cfg.PacketTimeout <= 0 {
		cfg.PacketTimeout = DefaultPacketTimeout
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	registry := NewRegistry(cfg.ChainID)
	if cfg.VoucherCollection != "" {
		if err := registry.CreateCollection(cfg.VoucherCollection, cfg.ModuleAddress); err != nil {
			return nil, err
		}
	}
	module := nametransfer.NewModule(channel.NewManager(cfg.Store), nametransfer.Config{
		VoucherCollection: cfg.VoucherCollection,
		Deriver:           voucher.Deriver{Scheme: cfg.VoucherScheme},
	})
	return &Chain{
		cfg:         cfg,
		module:      module,
		registry:    registry,
		nextSeq:     make(map[string]uint64),
		commitments: make(map[packetKey]nametransfer.Packet),
		receipts:    make(map[packetKey][]byte),
	}, nil
}

func (c *Chain) ChainID() string {
	return c.cfg.ChainID
}

func (c *Chain) PortID() string {
	return c.cfg.PortID
}

func (c *Chain) ModuleAddress() string {
	return c.cfg.ModuleAddress
}

func (c *Chain) Module() *nametransfer.Module {
	return c.module
}

func (c *Chain) Registry() *Registry {
	return c.registry
}

func (c *Chain) Channels() *channel.Manager {
	return c.module.Channels()
}

func (c *Chain) VoucherCollection() string {
	return c.module.VoucherCollection()
}

// Now reads the chain clock.
func (c *Chain) Now() time.Time {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.cfg.Now()
}

// SetClock replaces the chain clock; used to drive packets past their timeout.
func (c *Chain) SetClock(now func() time.Time) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	c.cfg.Now = now
}

// NextChannelID allocates the next local channel identifier.
func (c *Chain) NextChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("channel-%d", c.nextChannel)
	c.nextChannel++
	return id
}

func (c *Chain) OpenChannel(ctx context.Context, ch channel.Channel, counterpartyVersion string) (string, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.module.OnChanOpen(ctx, ch, counterpartyVersion)
}

func (c *Chain) ConnectChannel(ctx context.Context, ch channel.Channel, counterpartyVersion string) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	_, err := c.module.OnChanConnect(ctx, ch, counterpartyVersion)
	return err
}

func (c *Chain) CloseChannel(ctx context.Context, ch channel.Channel) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	_, err := c.module.OnChanClose(ctx, ch)
	return err
}

// Mint and TransferToken are the user-facing registry calls. They run under
// the transaction lock and never act as the module account, whose holdings
// are escrow.
func (c *Chain) Mint(sender, contract, tokenID, owner string) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if err := c.refuseModule(sender); err != nil {
		return err
	}
	return c.registry.Mint(sender, contract, tokenID, owner)
}

func (c *Chain) TransferToken(sender, contract, tokenID, recipient string) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if err := c.refuseModule(sender); err != nil {
		return err
	}
	return c.registry.Transfer(sender, contract, tokenID, recipient)
}

func (c *Chain) refuseModule(sender string) error {
	if strings.TrimSpace(sender) == c.cfg.ModuleAddress {
		return fmt.Errorf("%w: sender %s is the module account", ErrUnauthorized, sender)
	}
	return nil
}

// SendRequest starts a transfer from this chain.
//
// For SendReturn, Collection and TokenID name the origin asset; the voucher
// being returned is derived from them and ChannelID.
type SendRequest struct {
	ChannelID  string        `json:"channel_id"`
	Collection string        `json:"collection"`
	TokenID    string        `json:"token_id"`
	Sender     string        `json:"sender"`
	Receiver   string        `json:"receiver"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// SendTransfer escrows an original name with the module account and commits
// a TransferName packet.
func (c *Chain) SendTransfer(ctx context.Context, req SendRequest) (nametransfer.Packet, error) {
	msg := protocol.NewTransferName(req.Collection, req.TokenID, req.Sender, req.Receiver)
	return c.send(ctx, req, msg, req.Collection, req.TokenID)
}

// SendReturn escrows a voucher with the module account and commits a
// ReturnName packet for its origin asset.
func (c *Chain) SendReturn(ctx context.Context, req SendRequest) (nametransfer.Packet, error) {
	collection := c.module.VoucherCollection()
	if collection == "" {
		return nametransfer.Packet{}, nametransfer.ErrVoucherCollectionUnset
	}
	msg := protocol.NewReturnName(req.Collection, req.TokenID, req.Sender, req.Receiver)
	return c.send(ctx, req, msg, collection, c.module.VoucherID(req.ChannelID, req.Collection, req.TokenID))
}

func (c *Chain) send(ctx context.Context, req SendRequest, msg protocol.WireMessage, escrowContract, escrowToken string) (nametransfer.Packet, error) {
	_, body, err := msg.Unpack()
	if err != nil {
		return nametransfer.Packet{}, err
	}
	if err := body.Validate(); err != nil {
		return nametransfer.Packet{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return nametransfer.Packet{}, err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()
	info, err := c.module.Channels().Get(ctx, req.ChannelID)
	if err != nil {
		return nametransfer.Packet{}, err
	}
	if err := c.registry.Transfer(req.Sender, escrowContract, escrowToken, c.cfg.ModuleAddress); err != nil {
		return nametransfer.Packet{}, fmt.Errorf("host: escrow %s/%s: %w", escrowContract, escrowToken, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.PacketTimeout
	}
	c.mu.Lock()
	c.nextSeq[info.ChannelID]++
	pkt := nametransfer.Packet{
		Sequence:         c.nextSeq[info.ChannelID],
		Source:           channel.Endpoint{PortID: c.cfg.PortID, ChannelID: info.ChannelID},
		Destination:      info.CounterpartyEndpoint,
		Data:             data,
		TimeoutTimestamp: uint64(c.cfg.Now().Add(timeout).UnixNano()),
	}
	c.commitments[packetKey{info.ChannelID, pkt.Sequence}] = pkt
	c.mu.Unlock()

	log.Info().
		Str("chain", c.cfg.ChainID).
		Str("channel", info.ChannelID).
		Uint64("sequence", pkt.Sequence).
		Str("variant", string(msg.Variant())).
		Str("escrow", escrowContract+"/"+escrowToken).
		Msg("host.Chain.send packet committed")
	return pkt, nil
}

// RecvPacket delivers a packet to this chain and returns the encoded
// acknowledgement. A returned error means the delivery itself was rejected:
// no receipt and no acknowledgement are written.
func (c *Chain) RecvPacket(ctx context.Context, pkt nametransfer.Packet) ([]byte, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	key := packetKey{pkt.Destination.ChannelID, pkt.Sequence}
	if c.timedOut(pkt) {
		return nil, fmt.Errorf("%w: channel=%s seq=%d", ErrPacketTimedOut, key.channelID, key.sequence)
	}
	c.mu.RLock()
	_, seen := c.receipts[key]
	c.mu.RUnlock()
	if seen {
		return nil, fmt.Errorf("%w: channel=%s seq=%d", ErrAlreadyReceived, key.channelID, key.sequence)
	}

	resp, err := c.module.OnRecvPacket(ctx, pkt)
	if err != nil {
		log.Error().Err(err).Str("chain", c.cfg.ChainID).Uint64("sequence", pkt.Sequence).Msg("host.Chain.RecvPacket rejected")
		return nil, err
	}
	if err := c.registry.Execute(c.cfg.ModuleAddress, resp.Instructions); err != nil {
		log.Warn().Err(err).Str("chain", c.cfg.ChainID).Uint64("sequence", pkt.Sequence).Msg("host.Chain.RecvPacket execution failed")
		resp = nametransfer.FailedExecution(key.channelID, err)
	}
	ack := resp.Acknowledgement.Acknowledgement()

	c.mu.Lock()
	c.receipts[key] = ack
	c.events = append(c.events, resp.Events...)
	c.mu.Unlock()
	return ack, nil
}

// AcknowledgePacket settles a sent packet with the counterparty's verdict.
func (c *Chain) AcknowledgePacket(ctx context.Context, pkt nametransfer.Packet, ack []byte) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if err := c.checkCommitment(pkt); err != nil {
		return err
	}
	resp, err := c.module.OnAcknowledgementPacket(ctx, pkt, ack)
	if err != nil {
		return err
	}
	return c.settle(pkt, resp, "ack")
}

// TimeoutPacket settles a sent packet that was never received. It is
// refused while the packet's timeout lies in the future.
func (c *Chain) TimeoutPacket(ctx context.Context, pkt nametransfer.Packet) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if err := c.checkCommitment(pkt); err != nil {
		return err
	}
	if !c.timedOut(pkt) {
		return fmt.Errorf("%w: channel=%s seq=%d", ErrTimeoutNotReached, pkt.Source.ChannelID, pkt.Sequence)
	}
	resp, err := c.module.OnTimeoutPacket(ctx, pkt)
	if err != nil {
		return err
	}
	return c.settle(pkt, resp, "timeout")
}

func (c *Chain) checkCommitment(pkt nametransfer.Packet) error {
	key := packetKey{pkt.Source.ChannelID, pkt.Sequence}
	c.mu.RLock()
	committed, ok := c.commitments[key]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: channel=%s seq=%d", ErrNoCommitment, key.channelID, key.sequence)
	}
	if !bytes.Equal(committed.Data, pkt.Data) {
		return fmt.Errorf("%w: channel=%s seq=%d", ErrCommitmentMismatch, key.channelID, key.sequence)
	}
	return nil
}

func (c *Chain) settle(pkt nametransfer.Packet, resp nametransfer.Response, kind string) error {
	if err := c.registry.Execute(c.cfg.ModuleAddress, resp.Instructions); err != nil {
		return fmt.Errorf("host: %s execution: %w", kind, err)
	}
	c.mu.Lock()
	delete(c.commitments, packetKey{pkt.Source.ChannelID, pkt.Sequence})
	c.events = append(c.events, resp.Events...)
	c.mu.Unlock()
	log.Debug().
		Str("chain", c.cfg.ChainID).
		Str("channel", pkt.Source.ChannelID).
		Uint64("sequence", pkt.Sequence).
		Str("kind", kind).
		Int("instructions", len(resp.Instructions)).
		Msg("host.Chain.settle")
	return nil
}

func (c *Chain) timedOut(pkt nametransfer.Packet) bool {
	if pkt.TimeoutTimestamp == 0 {
		return false
	}
	return uint64(c.cfg.Now().UnixNano()) >= pkt.TimeoutTimestamp
}

// HasReceipt reports whether this chain received the packet.
func (c *Chain) HasReceipt(channelID string, sequence uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.receipts[packetKey{channelID, sequence}]
	return ok
}

// WrittenAcknowledgement returns the acknowledgement recorded for a
// received packet.
func (c *Chain) WrittenAcknowledgement(channelID string, sequence uint64) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ack, ok := c.receipts[packetKey{channelID, sequence}]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), ack...), true
}

// PendingPackets lists committed packets not yet acknowledged or timed out,
// ordered by channel then sequence.
func (c *Chain) PendingPackets() []nametransfer.Packet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]nametransfer.Packet, 0, len(c.commitments))
	for _, pkt := range c.commitments {
		out = append(out, pkt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source.ChannelID != out[j].Source.ChannelID {
			return out[i].Source.ChannelID < out[j].Source.ChannelID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

func (c *Chain) Events() []nametransfer.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]nametransfer.Event(nil), c.events...)
}
