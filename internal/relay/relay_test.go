package relay

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/host"
	"github.com/danmuck/nametransfer/internal/relay/wire"
	"github.com/danmuck/nametransfer/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	a, b    *host.Chain
	relayer *Relayer
	path    Path
	clock   *testClock
}

func newFixture(t *testing.T, transport Transport) fixture {
	t.Helper()
	clock := &testClock{now: time.Unix(1700000000, 0)}
	cfgA := host.DefaultConfig("chain-a")
	cfgA.Now = clock.Now
	cfgB := host.DefaultConfig("chain-b")
	cfgB.Now = clock.Now
	a, err := host.NewChain(cfgA)
	require.NoError(t, err)
	b, err := host.NewChain(cfgB)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Backoff.Jitter = false
	r := New(transport, cfg)
	r.SetClock(clock.Now)
	path, err := r.Link(context.Background(), a, b)
	require.NoError(t, err)

	require.NoError(t, a.Registry().CreateCollection("names", "registrar"))
	require.NoError(t, a.Registry().Mint("registrar", "names", "alice", "addrA"))
	return fixture{a: a, b: b, relayer: r, path: path, clock: clock}
}

func ownerOf(t *testing.T, c *host.Chain, contract, tokenID string) string {
	t.Helper()
	o, err := c.Registry().OwnerOf(contract, tokenID)
	require.NoError(t, err)
	return o
}

func TestLinkOpensBothEnds(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, NewMemoryTransport())
	ctx := context.Background()

	infoA, err := f.a.Channels().Get(ctx, f.path.ChannelA)
	require.NoError(t, err)
	require.Equal(t, f.path.ChannelB, infoA.CounterpartyEndpoint.ChannelID)
	infoB, err := f.b.Channels().Get(ctx, f.path.ChannelB)
	require.NoError(t, err)
	require.Equal(t, f.path.ChannelA, infoB.CounterpartyEndpoint.ChannelID)
	require.Equal(t, "connection-0", infoB.ConnectionID)
}

func TestLinkRejectsBadParameters(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	a, err := host.NewChain(host.DefaultConfig("chain-a"))
	require.NoError(t, err)
	b, err := host.NewChain(host.DefaultConfig("chain-b"))
	require.NoError(t, err)
	r := New(NewMemoryTransport(), DefaultConfig())

	opts := DefaultLinkOptions()
	opts.Order = channel.OrderOrdered
	_, err = r.LinkWith(ctx, a, b, opts)
	require.ErrorIs(t, err, channel.ErrOrderedChannel)

	opts = DefaultLinkOptions()
	opts.Version = "ics20-1"
	_, err = r.LinkWith(ctx, a, b, opts)
	require.ErrorIs(t, err, channel.ErrInvalidIbcVersion)

	list, err := a.Channels().List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestStepRoundTrip(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, NewMemoryTransport())
	voucherID := f.b.Module().VoucherID(f.path.ChannelB, "names", "alice")

	_, err := f.a.SendTransfer(ctx, host.SendRequest{ChannelID: f.path.ChannelA, Collection: "names", TokenID: "alice", Sender: "addrA", Receiver: "addrB"})
	require.NoError(t, err)

	rep, err := f.relayer.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Published: 1, Received: 1, Acknowledged: 1}, rep)
	require.Equal(t, "addrB", ownerOf(t, f.b, f.b.VoucherCollection(), voucherID))
	require.Equal(t, f.a.ModuleAddress(), ownerOf(t, f.a, "names", "alice"))
	require.Empty(t, f.relayer.Outbox().List())

	_, err = f.b.SendReturn(ctx, host.SendRequest{ChannelID: f.path.ChannelB, Collection: "names", TokenID: "alice", Sender: "addrB", Receiver: "addrA2"})
	require.NoError(t, err)
	rep, err = f.relayer.Drain(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Acknowledged)
	require.Equal(t, "addrA2", ownerOf(t, f.a, "names", "alice"))
	_, err = f.b.Registry().OwnerOf(f.b.VoucherCollection(), voucherID)
	require.ErrorIs(t, err, host.ErrTokenNotFound)

	rep, err = f.relayer.Step(ctx)
	require.NoError(t, err)
	require.True(t, rep.Idle())
}

func TestStepTimesOutUndeliveredPacket(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, NewMemoryTransport())

	_, err := f.a.SendTransfer(ctx, host.SendRequest{ChannelID: f.path.ChannelA, Collection: "names", TokenID: "alice", Sender: "addrA", Receiver: "addrB", Timeout: time.Minute})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	rep, err := f.relayer.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.TimedOut)
	require.Zero(t, rep.Received)
	require.Equal(t, "addrA", ownerOf(t, f.a, "names", "alice"))
	require.Empty(t, f.a.PendingPackets())
}

func TestReceiveRejectedAfterPublishThenTimedOut(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	transport := NewMemoryTransport()
	f := newFixture(t, transport)

	pkt, err := f.a.SendTransfer(ctx, host.SendRequest{ChannelID: f.path.ChannelA, Collection: "names", TokenID: "alice", Sender: "addrA", Receiver: "addrB", Timeout: time.Minute})
	require.NoError(t, err)

	// Publish by hand so the packet sits in the queue while the clock passes
	// its timeout.
	f.relayer.sendPending(ctx, f.a, &Report{})
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.relayer.deliverPackets(ctx, f.b, &Report{}))
	require.False(t, f.b.HasReceipt(pkt.Destination.ChannelID, pkt.Sequence))

	rep, err := f.relayer.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.TimedOut)
	require.Equal(t, "addrA", ownerOf(t, f.a, "names", "alice"))
}

type flakyTransport struct {
	*MemoryTransport
	mu       sync.Mutex
	failures int
}

func (f *flakyTransport) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	if strings.HasSuffix(subject, ".packets") && f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("broker unavailable")
	}
	f.mu.Unlock()
	return f.MemoryTransport.Publish(ctx, subject, data)
}

func TestPublishFailureBacksOff(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	transport := &flakyTransport{MemoryTransport: NewMemoryTransport(), failures: 1}
	f := newFixture(t, transport)

	pkt, err := f.a.SendTransfer(ctx, host.SendRequest{ChannelID: f.path.ChannelA, Collection: "names", TokenID: "alice", Sender: "addrA", Receiver: "addrB"})
	require.NoError(t, err)
	key := PacketKey{ChainID: "chain-a", ChannelID: f.path.ChannelA, Sequence: pkt.Sequence}

	rep, err := f.relayer.Step(ctx)
	require.NoError(t, err)
	require.Zero(t, rep.Published)
	item, ok := f.relayer.Outbox().Get(key)
	require.True(t, ok)
	require.Equal(t, 1, item.Attempts)
	require.Equal(t, "broker unavailable", item.LastError)
	require.Equal(t, f.clock.Now().Add(250*time.Millisecond), item.NextAttemptAt)

	rep, err = f.relayer.Step(ctx)
	require.NoError(t, err)
	require.True(t, rep.Idle())

	f.clock.Advance(time.Second)
	rep, err = f.relayer.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Published: 1, Received: 1, Acknowledged: 1}, rep)
	_, ok = f.relayer.Outbox().Get(key)
	require.False(t, ok)
}

// tamperingTransport corrupts the packet data of the next acknowledgement
// it carries.
type tamperingTransport struct {
	*MemoryTransport
	mu      sync.Mutex
	pending int
}

func (f *tamperingTransport) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasSuffix(subject, ".acks") && f.pending > 0 {
		f.pending--
		env, err := wire.DecodeEnvelope(data)
		if err != nil {
			return err
		}
		env.Packet.Data = append(append([]byte(nil), env.Packet.Data...), ' ')
		if data, err = wire.EncodeEnvelope(env); err != nil {
			return err
		}
	}
	return f.MemoryTransport.Publish(ctx, subject, data)
}

func TestSettleFailureRequeuesPacket(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, &tamperingTransport{MemoryTransport: NewMemoryTransport(), pending: 1})

	pkt, err := f.a.SendTransfer(ctx, host.SendRequest{ChannelID: f.path.ChannelA, Collection: "names", TokenID: "alice", Sender: "addrA", Receiver: "addrB"})
	require.NoError(t, err)
	key := PacketKey{ChainID: "chain-a", ChannelID: f.path.ChannelA, Sequence: pkt.Sequence}

	rep, err := f.relayer.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Published: 1, Received: 1, Rejected: 1}, rep)
	item, ok := f.relayer.Outbox().Get(key)
	require.True(t, ok)
	require.False(t, item.Published)
	require.Contains(t, item.LastError, "does not match commitment")
	require.Equal(t, f.clock.Now().Add(500*time.Millisecond), item.NextAttemptAt)
	require.Len(t, f.a.PendingPackets(), 1)

	f.clock.Advance(time.Second)
	rep, err = f.relayer.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{Published: 1, Received: 1, Acknowledged: 1}, rep)
	_, ok = f.relayer.Outbox().Get(key)
	require.False(t, ok)
	require.Empty(t, f.a.PendingPackets())
	require.Equal(t, f.a.ModuleAddress(), ownerOf(t, f.a, "names", "alice"))
}

func TestMemoryTransportFetchAndClose(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	m := NewMemoryTransport()
	for _, s := range []string{"one", "two", "three"} {
		if err := m.Publish(ctx, PacketSubject("chain-a"), []byte(s)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	got, err := m.Fetch(ctx, PacketSubject("chain-a"), 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 || string(got[0].Data) != "one" || string(got[1].Data) != "two" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	got, _ = m.Fetch(ctx, PacketSubject("chain-a"), 10)
	if len(got) != 1 || string(got[0].Data) != "three" {
		t.Fatalf("unexpected remainder: %+v", got)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Publish(ctx, "x", nil); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestSubjects(t *testing.T) {
	testlog.Start(t)
	if got := PacketSubject("chain.a"); got != "nametransfer.chain_a.packets" {
		t.Fatalf("unexpected packet subject: %q", got)
	}
	if got := AckSubject("chain-b"); got != "nametransfer.chain-b.acks" {
		t.Fatalf("unexpected ack subject: %q", got)
	}
	if _, err := OpenTransport(context.Background(), TransportConfig{Driver: "kafka"}); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 9, nil); got != 5*time.Second {
		t.Fatalf("attempt9 got=%v", got)
	}
	cfg.Jitter = true
	got := NextBackoffDelay(cfg, 2, rand.New(rand.NewSource(1)))
	if got < 250*time.Millisecond || got > 750*time.Millisecond {
		t.Fatalf("jittered delay out of range: %v", got)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox()
	now := time.Unix(1700000000, 0)
	key := PacketKey{ChainID: "chain-a", ChannelID: "channel-0", Sequence: 3}
	o.Upsert(PendingPacket{Key: key, QueuedAt: now})
	o.Upsert(PendingPacket{Key: PacketKey{ChainID: "chain-a", ChannelID: "channel-0", Sequence: 1}, QueuedAt: now})
	o.Upsert(PendingPacket{Key: PacketKey{ChannelID: "channel-0"}})

	item, ok := o.MarkAttempt(key, now.Add(time.Second), time.Time{}, "")
	if !ok || item.Attempts != 1 || !item.Published {
		t.Fatalf("unexpected item: %+v ok=%v", item, ok)
	}
	list := o.List()
	if len(list) != 2 || list[0].Key.Sequence != 1 || list[1].Key.Sequence != 3 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if got := o.Count("chain-a"); got != 2 {
		t.Fatalf("unexpected count: %d", got)
	}
	o.Remove(key)
	if _, ok := o.Get(key); ok {
		t.Fatalf("item should be removed")
	}
	if key.String() != "chain-a/channel-0/3" {
		t.Fatalf("unexpected key string: %s", key)
	}
}
