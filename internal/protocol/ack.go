package protocol

import (
	"encoding/json"
	"fmt"
)

// SuccessResult is the payload carried by every success acknowledgement.
var SuccessResult = []byte{0x01}

// Acknowledgement is the receiver's verdict on one packet:
// Success(result) or Error(message).
type Acknowledgement struct {
	success bool
	result  []byte
	errMsg  string
}

type ackEnvelope struct {
	Result *[]byte `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

func NewResultAcknowledgement(result []byte) Acknowledgement {
	buf := make([]byte, len(result))
	copy(buf, result)
	return Acknowledgement{success: true, result: buf}
}

func NewErrorAcknowledgement(msg string) Acknowledgement {
	return Acknowledgement{errMsg: msg}
}

// Success reports whether the receiver accepted the packet.
func (a Acknowledgement) Success() bool {
	return a.success
}

// Result returns the success payload, nil for error acknowledgements.
func (a Acknowledgement) Result() []byte {
	if !a.success {
		return nil
	}
	buf := make([]byte, len(a.result))
	copy(buf, a.result)
	return buf
}

// ErrorMessage returns the failure description, "" for success.
func (a Acknowledgement) ErrorMessage() string {
	return a.errMsg
}

// Acknowledgement returns the encoded envelope written back over the channel.
func (a Acknowledgement) Acknowledgement() []byte {
	out, err := a.MarshalJSON()
	if err != nil {
		// Marshalling a []byte or string cannot fail.
		panic(err)
	}
	return out
}

func (a Acknowledgement) String() string {
	if a.success {
		return fmt.Sprintf("success(%x)", a.result)
	}
	return fmt.Sprintf("error(%s)", a.errMsg)
}

func (a Acknowledgement) MarshalJSON() ([]byte, error) {
	var env ackEnvelope
	if a.success {
		result := a.result
		if result == nil {
			result = []byte{}
		}
		env.Result = &result
	} else {
		msg := a.errMsg
		env.Error = &msg
	}
	return json.Marshal(env)
}

func (a *Acknowledgement) UnmarshalJSON(data []byte) error {
	var env ackEnvelope
	if err := decodeStrict(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAcknowledgement, err)
	}
	switch {
	case env.Result != nil && env.Error == nil:
		*a = NewResultAcknowledgement(*env.Result)
	case env.Error != nil && env.Result == nil:
		*a = NewErrorAcknowledgement(*env.Error)
	default:
		return fmt.Errorf("%w: want exactly one of result or error", ErrInvalidAcknowledgement)
	}
	return nil
}

// DecodeAcknowledgement parses an acknowledgement envelope.
func DecodeAcknowledgement(data []byte) (Acknowledgement, error) {
	var a Acknowledgement
	if err := a.UnmarshalJSON(data); err != nil {
		return Acknowledgement{}, err
	}
	return a, nil
}
