package channel

import (
	"errors"
	"fmt"

	"github.com/danmuck/nametransfer/internal/protocol"
)

var (
	ErrInvalidIbcVersion        = errors.New("channel: invalid ibc version")
	ErrOrderedChannel           = errors.New("channel: only unordered channels are supported")
	ErrChannelAlreadyExists     = errors.New("channel: channel already exists")
	ErrUnknownChannel           = errors.New("channel: unknown channel")
	ErrChannelClosingNotAllowed = errors.New("channel: channel closing not allowed")
	ErrMissingChannelID         = errors.New("channel: missing channel id")
	ErrInvalidChannelID         = errors.New("channel: channel id has surrounding whitespace")
)

// VersionError carries the offending version string.
type VersionError struct {
	Version string
}

func (e VersionError) Error() string {
	return fmt.Sprintf("%s: got %q, want %q", ErrInvalidIbcVersion, e.Version, protocol.Version)
}

func (e VersionError) Unwrap() error {
	return ErrInvalidIbcVersion
}
