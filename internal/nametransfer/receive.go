package nametransfer

import (
	"context"

	"github.com/danmuck/nametransfer/internal/observability"
	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/rs/zerolog/log"
)

// OnRecvPacket handles a packet arriving on this chain. The packet is
// identified by the local (destination) channel end.
func (m *Module) OnRecvPacket(ctx context.Context, pkt Packet) (ReceiveResponse, error) {
	return m.Receive(ctx, pkt.Destination.ChannelID, pkt.Data)
}

// Receive gates on the channel, decodes the payload and dispatches on its
// variant.
//
// An unknown channel or an undecodable payload is a hard error: the host
// rejects the whole delivery and no acknowledgement is written. Any business
// failure after that point is a soft failure: an Error acknowledgement and a
// diagnostic event, with no instructions.
func (m *Module) Receive(ctx context.Context, channelID string, payload []byte) (ReceiveResponse, error) {
	if err := m.channels.RequireKnown(ctx, channelID); err != nil {
		observability.RecordReceive("none", "rejected")
		return ReceiveResponse{}, wrapChannel(err, channelID)
	}
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		observability.RecordReceive("none", "rejected")
		log.Warn().Err(err).Str("channel", channelID).Msg("nametransfer.Module.Receive undecodable packet")
		return ReceiveResponse{}, err
	}
	variant, body, err := msg.Unpack()
	if err != nil {
		observability.RecordReceive("none", "rejected")
		return ReceiveResponse{}, err
	}

	var resp Response
	switch variant {
	case protocol.VariantTransferName:
		resp, err = m.receiveTransfer(channelID, body)
	case protocol.VariantReturnName:
		resp, err = m.receiveReturn(body)
	}
	if err != nil {
		observability.RecordReceive(string(variant), "error")
		log.Warn().
			Err(err).
			Str("channel", channelID).
			Str("variant", string(variant)).
			Str("token_id", body.TokenID).
			Msg("nametransfer.Module.Receive failed")
		return softFailure(channelID, err), nil
	}

	observability.RecordReceive(string(variant), "success")
	log.Debug().
		Str("channel", channelID).
		Str("variant", string(variant)).
		Str("collection", body.Collection).
		Str("token_id", body.TokenID).
		Int("instructions", len(resp.Instructions)).
		Msg("nametransfer.Module.Receive accepted")
	return ReceiveResponse{
		Response:        resp,
		Acknowledgement: protocol.NewResultAcknowledgement(protocol.SuccessResult),
	}, nil
}

// receiveTransfer mints a voucher for a name arriving from its origin chain.
func (m *Module) receiveTransfer(channelID string, body protocol.Name) (Response, error) {
	if err := body.Validate(); err != nil {
		return Response{}, err
	}
	collection, err := m.voucherCollection()
	if err != nil {
		return Response{}, err
	}
	id := m.VoucherID(channelID, body.Collection, body.TokenID)
	return Response{
		Instructions: []Instruction{Mint(collection, id, body.ReceiverAddr)},
		Events: []Event{{
			Type: EventVoucherMint,
			Attributes: []Attribute{
				{Key: AttrChannel, Value: channelID},
				{Key: AttrOriginalCollection, Value: body.Collection},
				{Key: AttrTokenID, Value: body.TokenID},
			},
		}},
	}, nil
}

// receiveReturn releases an escrowed original back to the receiver. The
// voucher stays escrowed on the sending chain until this ack settles it.
func (m *Module) receiveReturn(body protocol.Name) (Response, error) {
	if err := body.Validate(); err != nil {
		return Response{}, err
	}
	return Response{
		Instructions: []Instruction{Transfer(body.Collection, body.TokenID, body.ReceiverAddr)},
	}, nil
}

// softFailure is the response for a receive that reached the business
// logic and failed there.
func softFailure(channelID string, err error) ReceiveResponse {
	attrs := []Attribute{
		{Key: AttrMethod, Value: "ibc_packet_receive"},
		{Key: AttrError, Value: err.Error()},
	}
	return ReceiveResponse{
		Response: Response{
			Attributes: attrs,
			Events: []Event{{
				Type: EventReceiveError,
				Attributes: []Attribute{
					{Key: AttrChannel, Value: channelID},
					{Key: AttrError, Value: err.Error()},
				},
			}},
		},
		Acknowledgement: protocol.NewErrorAcknowledgement(err.Error()),
	}
}

// FailedExecution turns a host-side execution failure of a receive's
// instructions into the Error acknowledgement written instead.
func FailedExecution(channelID string, err error) ReceiveResponse {
	return softFailure(channelID, err)
}
