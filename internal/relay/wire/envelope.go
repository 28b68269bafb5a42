package wire

import (
	"fmt"

	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/nametransfer"
	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Message types.
const (
	MsgPacket          uint32 = 1
	MsgAcknowledgement uint32 = 2
)

// Field IDs.
const (
	FieldChainID uint16 = 1

	FieldSequence     uint16 = 100
	FieldSourcePort   uint16 = 101
	FieldSourceChan   uint16 = 102
	FieldDestPort     uint16 = 103
	FieldDestChan     uint16 = 104
	FieldData         uint16 = 105
	FieldTimeoutNanos uint16 = 106

	FieldAck uint16 = 200
)

// Envelope is one relayed item: a packet for the destination chain, or the
// acknowledgement written for it on its way back to the source chain.
type Envelope struct {
	Type uint32
	// ChainID is the chain that emitted the envelope.
	ChainID string
	Packet  nametransfer.Packet
	Ack     []byte
}

type requirement struct {
	id  uint16
	typ uint8
}

var packetRequirements = []requirement{
	{FieldChainID, TypeString},
	{FieldSequence, TypeU64},
	{FieldSourcePort, TypeString},
	{FieldSourceChan, TypeString},
	{FieldDestPort, TypeString},
	{FieldDestChan, TypeString},
	{FieldData, TypeBytes},
	{FieldTimeoutNanos, TypeU64},
}

var requirements = map[uint32][]requirement{
	MsgPacket:          packetRequirements,
	MsgAcknowledgement: append(append([]requirement(nil), packetRequirements...), requirement{FieldAck, TypeBytes}),
}

// ValidationError names the field that failed envelope validation.
type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("wire: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("wire: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

// Validate enforces required fields and their types. Unknown fields are
// ignored.
func Validate(messageType uint32, fields []Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := GetField(fields, req.id)
		if !found {
			return ValidationError{MessageType: messageType, FieldID: req.id, Reason: "missing required field"}
		}
		if f.Type != req.typ {
			return ValidationError{MessageType: messageType, FieldID: req.id, Reason: "type mismatch"}
		}
	}
	return nil
}

// EncodeEnvelope frames env. The header message id carries the packet
// sequence.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if _, ok := requirements[env.Type]; !ok {
		return nil, ValidationError{MessageType: env.Type, Reason: "unknown message_type"}
	}
	pkt := env.Packet
	fields := []Field{
		StringField(FieldChainID, env.ChainID),
		U64Field(FieldSequence, pkt.Sequence),
		StringField(FieldSourcePort, pkt.Source.PortID),
		StringField(FieldSourceChan, pkt.Source.ChannelID),
		StringField(FieldDestPort, pkt.Destination.PortID),
		StringField(FieldDestChan, pkt.Destination.ChannelID),
		BytesField(FieldData, pkt.Data),
		U64Field(FieldTimeoutNanos, pkt.TimeoutTimestamp),
	}
	var flags uint32
	if env.Type == MsgAcknowledgement {
		fields = append(fields, BytesField(FieldAck, env.Ack))
		if ack, err := protocol.DecodeAcknowledgement(env.Ack); err != nil || !ack.Success() {
			flags |= FlagAckError
		}
	}
	return Marshal(Frame{
		Header: Header{
			MessageID:   pkt.Sequence,
			MessageType: env.Type,
			Flags:       flags,
		},
		Payload: EncodeFields(fields),
	})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	f, err := Unmarshal(b)
	if err != nil {
		return Envelope{}, err
	}
	fields, err := DecodeFields(f.Payload)
	if err != nil {
		return Envelope{}, err
	}
	if err := Validate(f.Header.MessageType, fields); err != nil {
		log.Debug().Err(err).Msg("wire.DecodeEnvelope invalid")
		return Envelope{}, err
	}
	get := func(id uint16) []byte {
		field, _ := GetField(fields, id)
		return field.Value
	}
	seq, err := U64FromBytes(get(FieldSequence))
	if err != nil {
		return Envelope{}, err
	}
	timeout, err := U64FromBytes(get(FieldTimeoutNanos))
	if err != nil {
		return Envelope{}, err
	}
	if seq != f.Header.MessageID {
		return Envelope{}, ValidationError{
			MessageType: f.Header.MessageType,
			FieldID:     FieldSequence,
			Reason:      fmt.Sprintf("sequence %d does not match message_id %d", seq, f.Header.MessageID),
		}
	}
	env := Envelope{
		Type:    f.Header.MessageType,
		ChainID: string(get(FieldChainID)),
		Packet: nametransfer.Packet{
			Sequence:         seq,
			Source:           channel.Endpoint{PortID: string(get(FieldSourcePort)), ChannelID: string(get(FieldSourceChan))},
			Destination:      channel.Endpoint{PortID: string(get(FieldDestPort)), ChannelID: string(get(FieldDestChan))},
			Data:             get(FieldData),
			TimeoutTimestamp: timeout,
		},
	}
	if env.Type == MsgAcknowledgement {
		env.Ack = get(FieldAck)
	}
	return env, nil
}
