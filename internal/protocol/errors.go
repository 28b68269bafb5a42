package protocol

import "errors"

var (
	ErrInvalidPayload         = errors.New("protocol: invalid packet payload")
	ErrUnknownVariant         = errors.New("protocol: packet payload must carry exactly one message variant")
	ErrInvalidAcknowledgement = errors.New("protocol: invalid acknowledgement")
	ErrMissingField           = errors.New("protocol: missing required field")
)
