package nametransfer

import (
	"github.com/danmuck/nametransfer/internal/channel"
	"github.com/danmuck/nametransfer/internal/protocol"
)

// Op names a token registry operation.
type Op string

const (
	OpMint     Op = "mint"
	OpBurn     Op = "burn"
	OpTransfer Op = "transfer"
)

// Instruction is one token registry call queued for the host. The module
// never executes it; the host runs the list after the entry point returns.
type Instruction struct {
	Contract  string `json:"contract"`
	Op        Op     `json:"op"`
	TokenID   string `json:"token_id"`
	Owner     string `json:"owner,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// Mint creates tokenID on contract owned by owner, with no token metadata.
func Mint(contract, tokenID, owner string) Instruction {
	return Instruction{Contract: contract, Op: OpMint, TokenID: tokenID, Owner: owner}
}

func Burn(contract, tokenID string) Instruction {
	return Instruction{Contract: contract, Op: OpBurn, TokenID: tokenID}
}

func Transfer(contract, tokenID, recipient string) Instruction {
	return Instruction{Contract: contract, Op: OpTransfer, TokenID: tokenID, Recipient: recipient}
}

// Attribute is one key/value pair on a response or event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is an observability record returned to the host.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attr returns the first value for key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

const (
	EventVoucherMint  = "ibc-voucher-mint"
	EventVoucherBurn  = "ibc-voucher-burn"
	EventReceiveError = "ibc-receive-error"

	AttrChannel            = "channel"
	AttrOriginalCollection = "original-collection"
	AttrTokenID            = "token_id"
	AttrMethod             = "method"
	AttrError              = "error"
)

// Response is what a handshake, ack or timeout entry point hands back.
type Response struct {
	Instructions []Instruction `json:"instructions,omitempty"`
	Attributes   []Attribute   `json:"attributes,omitempty"`
	Events       []Event       `json:"events,omitempty"`
}

// ReceiveResponse adds the acknowledgement written for a received packet.
type ReceiveResponse struct {
	Response
	Acknowledgement protocol.Acknowledgement `json:"acknowledgement"`
}

// Packet is one channel-scoped delivery as the host hands it over.
type Packet struct {
	Sequence         uint64           `json:"sequence"`
	Source           channel.Endpoint `json:"source"`
	Destination      channel.Endpoint `json:"destination"`
	Data             []byte           `json:"data"`
	TimeoutTimestamp uint64           `json:"timeout_timestamp"`
}

// Outcome is the delivery result the sender learns about for a packet.
type Outcome int

const (
	OutcomeAckSuccess Outcome = iota
	OutcomeAckFailure
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAckSuccess:
		return "ack_success"
	case OutcomeAckFailure:
		return "ack_failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// delivered collapses the three outcomes into success or failure. A lost
// packet and a rejected one compensate the same way.
func (o Outcome) delivered() bool {
	return o == OutcomeAckSuccess
}
