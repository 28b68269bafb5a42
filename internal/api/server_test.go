package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/nametransfer/internal/auth"
	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/host"
	"github.com/danmuck/nametransfer/internal/nametransfer"
	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/danmuck/nametransfer/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

const testToken = "secret"

func newServer(t *testing.T, chainID string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	chain, err := host.NewChain(host.DefaultConfig(chainID))
	require.NoError(t, err)
	s := New(chainID+".api", ":0", chain, Options{Validator: auth.StaticToken{Token: testToken}})
	s.RegisterRoutes()
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	log.Debug().Str("method", method).Str("path", path).Int("status", rr.Code).Msg("api/test")
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out), rr.Body.String())
}

func connect(t *testing.T, a, b *Server) (string, string) {
	t.Helper()
	chA, chB := a.Chain().NextChannelID(), b.Chain().NextChannelID()
	endA := channel.Channel{
		Endpoint:             channel.Endpoint{PortID: a.Chain().PortID(), ChannelID: chA},
		CounterpartyEndpoint: channel.Endpoint{PortID: b.Chain().PortID(), ChannelID: chB},
		Order:                channel.OrderUnordered,
		Version:              protocol.Version,
		ConnectionID:         "connection-0",
	}
	endB := channel.Channel{
		Endpoint:             endA.CounterpartyEndpoint,
		CounterpartyEndpoint: endA.Endpoint,
		Order:                channel.OrderUnordered,
		Version:              protocol.Version,
		ConnectionID:         "connection-0",
	}
	require.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/channels/open", channelRequest{Channel: endA}).Code)
	require.Equal(t, http.StatusOK, do(t, b, http.MethodPost, "/channels/open", channelRequest{Channel: endB, CounterpartyVersion: protocol.Version}).Code)
	require.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/channels/connect", channelRequest{Channel: endA, CounterpartyVersion: protocol.Version}).Code)
	require.Equal(t, http.StatusOK, do(t, b, http.MethodPost, "/channels/connect", channelRequest{Channel: endB, CounterpartyVersion: protocol.Version}).Code)
	return chA, chB
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	s := newServer(t, "chain-a")

	rr := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	decode(t, rr, &body)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "chain-a", body["chain"])

	rr = do(t, s, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	testlog.Start(t)
	s := newServer(t, "chain-a")

	req := httptest.NewRequest(http.MethodPost, "/collections", bytes.NewBufferString(`{"contract":"names","minter":"registrar"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/collections", nil)
	rr = httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestTransferRoundTripOverHTTP(t *testing.T) {
	testlog.Start(t)
	a := newServer(t, "chain-a")
	b := newServer(t, "chain-b")
	chA, chB := connect(t, a, b)

	require.Equal(t, http.StatusCreated, do(t, a, http.MethodPost, "/collections", collectionRequest{Contract: "names", Minter: "registrar"}).Code)
	require.Equal(t, http.StatusCreated, do(t, a, http.MethodPost, "/collections/names/mint", tokenRequest{Sender: "registrar", TokenID: "alice", Owner: "addrA"}).Code)

	rr := do(t, a, http.MethodPost, "/transfers", sendRequest{
		ChannelID:  chA,
		Collection: "names",
		TokenID:    "alice",
		Sender:     "addrA",
		Receiver:   "addrB",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var sent struct {
		Packet nametransfer.Packet `json:"packet"`
	}
	decode(t, rr, &sent)
	require.Equal(t, chB, sent.Packet.Destination.ChannelID)

	rr = do(t, a, http.MethodGet, "/packets/pending", nil)
	var pending struct {
		Packets []nametransfer.Packet `json:"packets"`
	}
	decode(t, rr, &pending)
	require.Len(t, pending.Packets, 1)

	rr = do(t, b, http.MethodPost, "/packets/receive", packetRequest{Packet: sent.Packet})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var recv struct {
		Ack []byte `json:"acknowledgement"`
	}
	decode(t, rr, &recv)
	require.JSONEq(t, `{"result":"AQ=="}`, string(recv.Ack))

	replay := sent.Packet
	replay.Destination.ChannelID = " " + chB
	rr = do(t, b, http.MethodPost, "/packets/receive", packetRequest{Packet: replay})
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())

	rr = do(t, a, http.MethodPost, "/collections/names/transfer", tokenRequest{Sender: a.Chain().ModuleAddress(), TokenID: "alice", Recipient: "addrM"})
	require.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())

	rr = do(t, a, http.MethodPost, "/packets/acknowledge", packetRequest{Packet: sent.Packet, Ack: recv.Ack})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = do(t, a, http.MethodGet, "/collections/names/tokens/alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var tok host.Token
	decode(t, rr, &tok)
	require.Equal(t, a.Chain().ModuleAddress(), tok.Owner)

	voucherID := b.Chain().Module().VoucherID(chB, "names", "alice")
	rr = do(t, b, http.MethodGet, "/collections/"+b.Chain().VoucherCollection()+"/tokens", nil)
	var vouchers struct {
		Tokens []host.Token `json:"tokens"`
	}
	decode(t, rr, &vouchers)
	require.Len(t, vouchers.Tokens, 1)
	require.Equal(t, voucherID, vouchers.Tokens[0].TokenID)
	require.Equal(t, "addrB", vouchers.Tokens[0].Owner)
}

func TestErrorStatuses(t *testing.T) {
	testlog.Start(t)
	s := newServer(t, "chain-a")

	rr := do(t, s, http.MethodGet, "/channels/channel-9", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, s, http.MethodPost, "/channels/channel-9/close", nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, s, http.MethodPost, "/transfers", sendRequest{
		ChannelID:  "channel-9",
		Collection: "names",
		TokenID:    "alice",
		Sender:     "addrA",
		Receiver:   "addrB",
	})
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodPost, "/channels/open", channelRequest{Channel: channel.Channel{
		Endpoint: channel.Endpoint{PortID: "p", ChannelID: "channel-0"},
		Order:    channel.OrderOrdered,
		Version:  protocol.Version,
	}})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, s, http.MethodGet, "/vouchers/derive?scheme=md5", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestDeriveVoucher(t *testing.T) {
	testlog.Start(t)
	s := newServer(t, "chain-a")
	rr := do(t, s, http.MethodGet, "/vouchers/derive?channel=ch-1&collection=names&token_id=alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	decode(t, rr, &body)
	require.Equal(t, "transfer_name/ibc/ch-1/names/alice", body["voucher_id"])
	require.Equal(t, "path", body["scheme"])
}
