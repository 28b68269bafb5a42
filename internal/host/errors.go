package host

import "errors"

var (
	ErrUnknownCollection  = errors.New("host: unknown collection")
	ErrCollectionExists   = errors.New("host: collection already exists")
	ErrTokenExists        = errors.New("host: token already exists")
	ErrTokenNotFound      = errors.New("host: token not found")
	ErrUnauthorized       = errors.New("host: unauthorized")
	ErrUnknownOp          = errors.New("host: unknown instruction op")
	ErrPacketTimedOut     = errors.New("host: packet timed out")
	ErrTimeoutNotReached  = errors.New("host: packet timeout not reached")
	ErrAlreadyReceived    = errors.New("host: packet already received")
	ErrNoCommitment       = errors.New("host: no packet commitment")
	ErrCommitmentMismatch = errors.New("host: packet data does not match commitment")
	ErrInvalidRequest     = errors.New("host: invalid request")
)
