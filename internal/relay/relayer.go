// Package relay carries packets and acknowledgements between host chains.
//
// Each Step picks up committed packets from every source chain, publishes
// them as framed envelopes on the destination chain's packet subject,
// delivers queued packets, publishes the written acknowledgements back, and
// settles them on the source. Packets past their timeout with no receipt on
// the destination are timed out on the source instead.
package relay

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/nametransfer/internal/host"
	"github.com/danmuck/nametransfer/internal/observability"
	"github.com/danmuck/nametransfer/internal/relay/wire"
	"github.com/rs/zerolog/log"
)

// Config defines relay loop behavior.
type Config struct {
	Interval    time.Duration
	FetchBatch  int
	MaxAttempts int
	Backoff     BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Second,
		FetchBatch:  64,
		MaxAttempts: 0,
		Backoff:     DefaultBackoff(),
	}
}

// Report counts what one Step did.
type Report struct {
	Published    int
	Received     int
	Rejected     int
	Acknowledged int
	TimedOut     int
}

func (r Report) Idle() bool {
	return r == Report{}
}

type endKey struct {
	chainID   string
	channelID string
}

type Relayer struct {
	cfg       Config
	transport Transport
	outbox    *Outbox
	rng       *rand.Rand
	now       func() time.Time

	mu     sync.RWMutex
	chains map[string]*host.Chain
	routes map[endKey]*host.Chain
}

func New(transport Transport, cfg Config) *Relayer {
	if cfg.FetchBatch <= 0 {
		cfg.FetchBatch = DefaultConfig().FetchBatch
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Relayer{
		cfg:       cfg,
		transport: transport,
		outbox:    NewOutbox(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		chains:    make(map[string]*host.Chain),
		routes:    make(map[endKey]*host.Chain),
	}
}

func (r *Relayer) Outbox() *Outbox {
	return r.outbox
}

// SetClock replaces the clock used for retry scheduling.
func (r *Relayer) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *Relayer) clock() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

// AddPath registers an already open channel pair.
func (r *Relayer) AddPath(p Path) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[p.A.ChainID()] = p.A
	r.chains[p.B.ChainID()] = p.B
	r.routes[endKey{p.A.ChainID(), p.ChannelA}] = p.B
	r.routes[endKey{p.B.ChainID(), p.ChannelB}] = p.A
}

func (r *Relayer) counterparty(chainID, channelID string) (*host.Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.routes[endKey{chainID, channelID}]
	return c, ok
}

func (r *Relayer) chainList() []*host.Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*host.Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChainID() < out[j].ChainID()
	})
	return out
}

// Step runs one relay pass over every registered chain.
func (r *Relayer) Step(ctx context.Context) (Report, error) {
	var rep Report
	chains := r.chainList()
	for _, src := range chains {
		r.sendPending(ctx, src, &rep)
	}
	for _, c := range chains {
		if err := r.deliverPackets(ctx, c, &rep); err != nil {
			return rep, err
		}
	}
	for _, c := range chains {
		if err := r.deliverAcks(ctx, c, &rep); err != nil {
			return rep, err
		}
	}
	for _, c := range chains {
		observability.SetRelayPending(c.ChainID(), r.outbox.Count(c.ChainID()))
	}
	if !rep.Idle() {
		log.Debug().
			Int("published", rep.Published).
			Int("received", rep.Received).
			Int("rejected", rep.Rejected).
			Int("acknowledged", rep.Acknowledged).
			Int("timed_out", rep.TimedOut).
			Msg("relay.Relayer.Step")
	}
	return rep, nil
}

// Drain steps until a pass does nothing or max passes ran.
func (r *Relayer) Drain(ctx context.Context, max int) (Report, error) {
	var total Report
	for i := 0; i < max; i++ {
		rep, err := r.Step(ctx)
		total.Published += rep.Published
		total.Received += rep.Received
		total.Rejected += rep.Rejected
		total.Acknowledged += rep.Acknowledged
		total.TimedOut += rep.TimedOut
		if err != nil {
			return total, err
		}
		if rep.Idle() {
			break
		}
	}
	return total, nil
}

// Run steps on the configured interval until ctx ends.
func (r *Relayer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn().Err(err).Msg("relay.Relayer.Run step failed")
			}
		}
	}
}

func (r *Relayer) sendPending(ctx context.Context, src *host.Chain, rep *Report) {
	now := r.clock()
	for _, pkt := range src.PendingPackets() {
		dst, ok := r.counterparty(src.ChainID(), pkt.Source.ChannelID)
		if !ok {
			continue
		}
		key := PacketKey{ChainID: src.ChainID(), ChannelID: pkt.Source.ChannelID, Sequence: pkt.Sequence}
		item, tracked := r.outbox.Get(key)
		if !tracked {
			item = PendingPacket{Key: key, QueuedAt: now}
			if pkt.TimeoutTimestamp != 0 {
				item.TimeoutAt = time.Unix(0, int64(pkt.TimeoutTimestamp))
			}
			r.outbox.Upsert(item)
		}

		if !item.TimeoutAt.IsZero() && !dst.Now().Before(item.TimeoutAt) && !dst.HasReceipt(pkt.Destination.ChannelID, pkt.Sequence) {
			if err := src.TimeoutPacket(ctx, pkt); err != nil {
				log.Warn().Err(err).Str("packet", key.String()).Msg("relay.Relayer.sendPending timeout refused")
				continue
			}
			r.outbox.Remove(key)
			rep.TimedOut++
			continue
		}
		if item.Published {
			continue
		}
		if !item.NextAttemptAt.IsZero() && now.Before(item.NextAttemptAt) {
			continue
		}
		if r.cfg.MaxAttempts > 0 && item.Attempts >= r.cfg.MaxAttempts {
			continue
		}

		raw, err := wire.EncodeEnvelope(wire.Envelope{Type: wire.MsgPacket, ChainID: src.ChainID(), Packet: pkt})
		if err == nil {
			err = r.transport.Publish(ctx, PacketSubject(dst.ChainID()), raw)
		}
		if err != nil {
			next := now.Add(NextBackoffDelay(r.cfg.Backoff, item.Attempts+1, r.rng))
			updated, _ := r.outbox.MarkAttempt(key, now, next, err.Error())
			log.Warn().
				Err(err).
				Str("packet", key.String()).
				Int("attempts", updated.Attempts).
				Time("next_attempt", next).
				Msg("relay.Relayer.sendPending publish failed")
			continue
		}
		r.outbox.MarkAttempt(key, now, time.Time{}, "")
		rep.Published++
	}
}

func (r *Relayer) deliverPackets(ctx context.Context, c *host.Chain, rep *Report) error {
	deliveries, err := r.transport.Fetch(ctx, PacketSubject(c.ChainID()), r.cfg.FetchBatch)
	if err != nil {
		return err
	}
	for _, d := range deliveries {
		env, err := wire.DecodeEnvelope(d.Data)
		if err != nil {
			log.Error().Err(err).Str("chain", c.ChainID()).Msg("relay.Relayer.deliverPackets undecodable envelope")
			rep.Rejected++
			ackDelivery(d)
			continue
		}
		ack, err := c.RecvPacket(ctx, env.Packet)
		if errors.Is(err, host.ErrAlreadyReceived) {
			ack, _ = c.WrittenAcknowledgement(env.Packet.Destination.ChannelID, env.Packet.Sequence)
			err = nil
		}
		if err != nil {
			log.Warn().
				Err(err).
				Str("chain", c.ChainID()).
				Uint64("sequence", env.Packet.Sequence).
				Msg("relay.Relayer.deliverPackets receive rejected")
			rep.Rejected++
			ackDelivery(d)
			continue
		}
		rep.Received++
		raw, err := wire.EncodeEnvelope(wire.Envelope{
			Type:    wire.MsgAcknowledgement,
			ChainID: c.ChainID(),
			Packet:  env.Packet,
			Ack:     ack,
		})
		if err == nil {
			err = r.transport.Publish(ctx, AckSubject(env.ChainID), raw)
		}
		if err != nil {
			// Left unacked; a redelivery republishes the written ack.
			log.Warn().Err(err).Str("chain", c.ChainID()).Uint64("sequence", env.Packet.Sequence).Msg("relay.Relayer.deliverPackets ack publish failed")
			continue
		}
		ackDelivery(d)
	}
	return nil
}

func (r *Relayer) deliverAcks(ctx context.Context, c *host.Chain, rep *Report) error {
	deliveries, err := r.transport.Fetch(ctx, AckSubject(c.ChainID()), r.cfg.FetchBatch)
	if err != nil {
		return err
	}
	for _, d := range deliveries {
		env, err := wire.DecodeEnvelope(d.Data)
		if err != nil {
			log.Error().Err(err).Str("chain", c.ChainID()).Msg("relay.Relayer.deliverAcks undecodable envelope")
			rep.Rejected++
			ackDelivery(d)
			continue
		}
		key := PacketKey{ChainID: c.ChainID(), ChannelID: env.Packet.Source.ChannelID, Sequence: env.Packet.Sequence}
		err = c.AcknowledgePacket(ctx, env.Packet, env.Ack)
		switch {
		case err == nil:
			rep.Acknowledged++
			r.outbox.Remove(key)
		case errors.Is(err, host.ErrNoCommitment):
			r.outbox.Remove(key)
		default:
			// Requeue; a redelivered packet is answered with the written ack.
			rep.Rejected++
			item, tracked := r.outbox.Get(key)
			if !tracked {
				log.Error().Err(err).Str("packet", key.String()).Msg("relay.Relayer.deliverAcks settle failed")
				break
			}
			now := r.clock()
			next := now.Add(NextBackoffDelay(r.cfg.Backoff, item.Attempts+1, r.rng))
			r.outbox.MarkAttempt(key, now, next, err.Error())
			log.Error().
				Err(err).
				Str("packet", key.String()).
				Time("next_attempt", next).
				Msg("relay.Relayer.deliverAcks settle failed, packet requeued")
		}
		ackDelivery(d)
	}
	return nil
}

func ackDelivery(d Delivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(); err != nil {
		log.Warn().Err(err).Str("subject", d.Subject).Msg("relay.ackDelivery failed")
	}
}
