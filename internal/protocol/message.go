package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// Version is the only channel version this protocol negotiates.
	Version = "ibc-name-transfer-1.0"
)

// Variant names one WireMessage shape. The value is also its JSON tag.
type Variant string

const (
	VariantTransferName Variant = "transfer_name"
	VariantReturnName   Variant = "return_name"
)

// Name is the field set shared by both variants.
type Name struct {
	Collection   string `json:"collection"`
	TokenID      string `json:"token_id"`
	SenderAddr   string `json:"sender_addr"`
	ReceiverAddr string `json:"receiver_addr"`
}

// Validate reports the first empty field.
func (n Name) Validate() error {
	switch {
	case strings.TrimSpace(n.Collection) == "":
		return fmt.Errorf("%w: collection", ErrMissingField)
	case strings.TrimSpace(n.TokenID) == "":
		return fmt.Errorf("%w: token_id", ErrMissingField)
	case strings.TrimSpace(n.SenderAddr) == "":
		return fmt.Errorf("%w: sender_addr", ErrMissingField)
	case strings.TrimSpace(n.ReceiverAddr) == "":
		return fmt.Errorf("%w: receiver_addr", ErrMissingField)
	}
	return nil
}

// WireMessage is the packet data tagged union. Exactly one pointer is set.
//
//	{"transfer_name":{"collection":..,"token_id":..,"sender_addr":..,"receiver_addr":..}}
//	{"return_name":{...}}
type WireMessage struct {
	TransferName *Name `json:"transfer_name,omitempty"`
	ReturnName   *Name `json:"return_name,omitempty"`
}

// NewTransferName builds a message moving a name from its home chain.
func NewTransferName(collection, tokenID, sender, receiver string) WireMessage {
	return WireMessage{TransferName: &Name{
		Collection:   collection,
		TokenID:      tokenID,
		SenderAddr:   sender,
		ReceiverAddr: receiver,
	}}
}

// NewReturnName builds a message moving a voucher back toward its origin.
// collection and tokenID name the origin asset, not the voucher.
func NewReturnName(collection, tokenID, sender, receiver string) WireMessage {
	return WireMessage{ReturnName: &Name{
		Collection:   collection,
		TokenID:      tokenID,
		SenderAddr:   sender,
		ReceiverAddr: receiver,
	}}
}

// Unpack returns the variant and its fields.
func (m WireMessage) Unpack() (Variant, Name, error) {
	switch {
	case m.TransferName != nil && m.ReturnName == nil:
		return VariantTransferName, *m.TransferName, nil
	case m.ReturnName != nil && m.TransferName == nil:
		return VariantReturnName, *m.ReturnName, nil
	default:
		return "", Name{}, ErrUnknownVariant
	}
}

// Variant returns the set variant or "" when the message is malformed.
func (m WireMessage) Variant() Variant {
	v, _, err := m.Unpack()
	if err != nil {
		return ""
	}
	return v
}

// EncodeMessage serializes m into packet data.
func EncodeMessage(m WireMessage) ([]byte, error) {
	if _, _, err := m.Unpack(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMessage parses packet data. Unknown keys, a missing variant and
// more than one variant are all rejected.
func DecodeMessage(data []byte) (WireMessage, error) {
	var m WireMessage
	if err := decodeStrict(data, &m); err != nil {
		return WireMessage{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, _, err := m.Unpack(); err != nil {
		return WireMessage{}, err
	}
	return m, nil
}

// decodeStrict decodes exactly one JSON value with no unknown keys and
// nothing but whitespace after it.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if tok, err := dec.Token(); err != io.EOF {
		if err != nil {
			return fmt.Errorf("trailing data: %v", err)
		}
		return fmt.Errorf("trailing data: %v", tok)
	}
	return nil
}
