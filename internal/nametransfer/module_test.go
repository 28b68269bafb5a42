package nametransfer

import (
	"context"
	"encoding/base64"
	"errors"
	"slices"
	"testing"

	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/danmuck/nametransfer/internal/store"
	"github.com/danmuck/nametransfer/internal/testutil/testlog"
	"github.com/danmuck/nametransfer/internal/voucher"
)

const (
	voucherColl = "voucher-registry"
	localCh     = "ch-1"
)

func testChannel(id string) channel.Channel {
	return channel.Channel{
		Endpoint:             channel.Endpoint{PortID: "wasm.manager", ChannelID: id},
		CounterpartyEndpoint: channel.Endpoint{PortID: "wasm.manager", ChannelID: "ch-remote"},
		Order:                channel.OrderUnordered,
		Version:              protocol.Version,
		ConnectionID:         "connection-0",
	}
}

func newTestModule(t *testing.T, cfg Config) *Module {
	t.Helper()
	m := NewModule(channel.NewManager(store.NewMemory()), cfg)
	if _, err := m.OnChanConnect(context.Background(), testChannel(localCh), protocol.Version); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return m
}

func encode(t *testing.T, msg protocol.WireMessage) []byte {
	t.Helper()
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func expectInstructions(t *testing.T, got []Instruction, want ...Instruction) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected instructions:\n got  %+v\n want %+v", got, want)
	}
}

func inbound(data []byte) Packet {
	return Packet{
		Sequence:    1,
		Source:      channel.Endpoint{PortID: "wasm.manager", ChannelID: "ch-remote"},
		Destination: channel.Endpoint{PortID: "wasm.manager", ChannelID: localCh},
		Data:        data,
	}
}

func outbound(data []byte) Packet {
	return Packet{
		Sequence:    1,
		Source:      channel.Endpoint{PortID: "wasm.manager", ChannelID: localCh},
		Destination: channel.Endpoint{PortID: "wasm.manager", ChannelID: "ch-remote"},
		Data:        data,
	}
}

func TestHandshakeEntryPoints(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	m := NewModule(channel.NewManager(store.NewMemory()), Config{VoucherCollection: voucherColl})

	version, err := m.OnChanOpen(ctx, testChannel(localCh), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if version != protocol.Version {
		t.Fatalf("unexpected version: %q", version)
	}

	resp, err := m.OnChanConnect(ctx, testChannel(localCh), protocol.Version)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !slices.Contains(resp.Attributes, Attribute{Key: AttrChannel, Value: localCh}) {
		t.Fatalf("connect attributes missing channel: %+v", resp.Attributes)
	}

	if _, err := m.OnChanConnect(ctx, testChannel(localCh), protocol.Version); !errors.Is(err, channel.ErrChannelAlreadyExists) {
		t.Fatalf("expected ErrChannelAlreadyExists, got %v", err)
	}
	if _, err := m.OnChanClose(ctx, testChannel(localCh)); !errors.Is(err, channel.ErrChannelClosingNotAllowed) {
		t.Fatalf("expected ErrChannelClosingNotAllowed, got %v", err)
	}
	if err := m.Channels().RequireKnown(ctx, localCh); err != nil {
		t.Fatalf("channel lost after refused close: %v", err)
	}

	ordered := testChannel("ch-2")
	ordered.Order = channel.OrderOrdered
	if _, err := m.OnChanOpen(ctx, ordered, ""); !errors.Is(err, channel.ErrOrderedChannel) {
		t.Fatalf("expected ErrOrderedChannel, got %v", err)
	}
	if _, err := m.OnChanOpen(ctx, testChannel("ch-3"), "ibc-name-transfer-0.9"); !errors.Is(err, channel.ErrInvalidIbcVersion) {
		t.Fatalf("expected ErrInvalidIbcVersion, got %v", err)
	}
}

func TestConfigTrimsVoucherCollection(t *testing.T) {
	testlog.Start(t)
	m := NewModule(channel.NewManager(store.NewMemory()), Config{VoucherCollection: "  " + voucherColl + " "})
	if got := m.VoucherCollection(); got != voucherColl {
		t.Fatalf("unexpected voucher collection: %q", got)
	}
}

func TestVoucherIDFollowsScheme(t *testing.T) {
	testlog.Start(t)
	path := NewModule(channel.NewManager(store.NewMemory()), Config{})
	if got := path.VoucherID("ch-1", "C", "alice"); got != "transfer_name/ibc/ch-1/C/alice" {
		t.Fatalf("unexpected path voucher id: %q", got)
	}

	hashed := NewModule(channel.NewManager(store.NewMemory()), Config{Deriver: voucher.Deriver{Scheme: voucher.SchemeHash}})
	if got, want := hashed.VoucherID("ch-1", "C", "alice"), voucher.DeriveHash("ch-1", "C", "alice"); got != want {
		t.Fatalf("unexpected hash voucher id: %q want %q", got, want)
	}
}

func TestOutcomeString(t *testing.T) {
	testlog.Start(t)
	for outcome, want := range map[Outcome]string{
		OutcomeAckSuccess: "ack_success",
		OutcomeAckFailure: "ack_failure",
		OutcomeTimeout:    "timeout",
		Outcome(9):        "unknown",
	} {
		if got := outcome.String(); got != want {
			t.Fatalf("outcome %d: got %q want %q", int(outcome), got, want)
		}
	}
	if !OutcomeAckSuccess.delivered() || OutcomeAckFailure.delivered() || OutcomeTimeout.delivered() {
		t.Fatalf("only a successful ack counts as delivered")
	}
}

func TestUndecodableAckIsFailureCarryingRawBytes(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	m := newTestModule(t, Config{VoucherCollection: voucherColl})
	data := encode(t, protocol.NewTransferName("C", "alice", "addrA", "addrB"))
	raw := []byte("not-json")

	resp, err := m.OnAcknowledgementPacket(ctx, outbound(data), raw)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	expectInstructions(t, resp.Instructions, Transfer("C", "alice", "addrA"))
	if got := base64.StdEncoding.EncodeToString(raw); got != "bm90LWpzb24=" {
		t.Fatalf("unexpected encoding: %q", got)
	}
}

func TestAckWithTrailingDataIsFailure(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	m := newTestModule(t, Config{VoucherCollection: voucherColl})
	data := encode(t, protocol.NewTransferName("C", "alice", "addrA", "addrB"))

	for _, raw := range []string{`{"result":"AQ=="}{"error":"boom"}`, `{"result":"AQ=="}}`} {
		resp, err := m.OnAcknowledgementPacket(ctx, outbound(data), []byte(raw))
		if err != nil {
			t.Fatalf("ack %s: %v", raw, err)
		}
		expectInstructions(t, resp.Instructions, Transfer("C", "alice", "addrA"))
	}
}
