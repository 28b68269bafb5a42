package nametransfer

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/danmuck/nametransfer/internal/observability"
	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/rs/zerolog/log"
)

// OnAcknowledgementPacket handles the counterparty verdict on a packet this
// chain sent. The packet is identified by its source channel end, which is
// local on the sending side.
//
// An acknowledgement that does not decode counts as a failure carrying the
// base64 of the raw bytes.
func (m *Module) OnAcknowledgementPacket(ctx context.Context, pkt Packet, rawAck []byte) (Response, error) {
	channelID := pkt.Source.ChannelID
	if err := m.channels.RequireKnown(ctx, channelID); err != nil {
		return Response{}, wrapChannel(err, channelID)
	}
	ack, err := protocol.DecodeAcknowledgement(rawAck)
	if err != nil {
		log.Warn().
			Err(err).
			Str("channel", channelID).
			Uint64("sequence", pkt.Sequence).
			Msg("nametransfer.Module.OnAcknowledgementPacket undecodable ack")
		ack = protocol.NewErrorAcknowledgement(base64.StdEncoding.EncodeToString(rawAck))
	}
	outcome := OutcomeAckFailure
	if ack.Success() {
		outcome = OutcomeAckSuccess
	}
	return m.Reconcile(ctx, channelID, pkt.Data, outcome)
}

// OnTimeoutPacket handles a packet the counterparty never received.
func (m *Module) OnTimeoutPacket(ctx context.Context, pkt Packet) (Response, error) {
	return m.Reconcile(ctx, pkt.Source.ChannelID, pkt.Data, OutcomeTimeout)
}

// Reconcile decides the sender-side follow-up for the original payload:
//
//	TransferName + delivered   nothing, the original stays escrowed
//	TransferName + undelivered release the escrowed original to the sender
//	ReturnName   + delivered   burn the escrowed voucher
//	ReturnName   + undelivered release the escrowed voucher to the sender
//
// Every failure here is a hard error; there is no acknowledgement to carry it.
func (m *Module) Reconcile(ctx context.Context, channelID string, payload []byte, outcome Outcome) (Response, error) {
	switch outcome {
	case OutcomeAckSuccess, OutcomeAckFailure, OutcomeTimeout:
	default:
		return Response{}, fmt.Errorf("%w: %d", ErrUnknownOutcome, int(outcome))
	}
	if err := m.channels.RequireKnown(ctx, channelID); err != nil {
		return Response{}, wrapChannel(err, channelID)
	}
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		return Response{}, err
	}
	variant, body, err := msg.Unpack()
	if err != nil {
		return Response{}, err
	}

	var (
		resp   Response
		action string
	)
	switch variant {
	case protocol.VariantTransferName:
		if outcome.delivered() {
			action = "none"
			break
		}
		action = "release_original"
		resp.Instructions = []Instruction{Transfer(body.Collection, body.TokenID, body.SenderAddr)}
	case protocol.VariantReturnName:
		collection, err := m.voucherCollection()
		if err != nil {
			return Response{}, err
		}
		// The token id in a ReturnName is the original token id; the escrowed
		// voucher id is derived from it.
		id := m.VoucherID(channelID, body.Collection, body.TokenID)
		if outcome.delivered() {
			action = "burn_voucher"
			resp.Instructions = []Instruction{Burn(collection, id)}
			resp.Events = []Event{{
				Type: EventVoucherBurn,
				Attributes: []Attribute{
					{Key: AttrChannel, Value: channelID},
					{Key: AttrOriginalCollection, Value: body.Collection},
					{Key: AttrTokenID, Value: body.TokenID},
				},
			}}
			break
		}
		action = "release_voucher"
		resp.Instructions = []Instruction{Transfer(collection, id, body.SenderAddr)}
	}

	observability.RecordOutcome(string(variant), outcome.String(), action)
	log.Debug().
		Str("channel", channelID).
		Str("variant", string(variant)).
		Str("outcome", outcome.String()).
		Str("action", action).
		Str("token_id", body.TokenID).
		Msg("nametransfer.Module.Reconcile")
	return resp, nil
}
