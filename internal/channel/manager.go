// Package channel owns the channel handshake rules and the channel registry.
//
// Lifecycle: proposed (open step, validated, nothing persisted) -> open
// (connect step, Info persisted) or rejected (any check failed). There is no
// closing transition.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/nametransfer/internal/protocol"
	"github.com/danmuck/nametransfer/internal/store"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "ibc_channel_infos/"

// Manager validates handshakes and records connected channels.
type Manager struct {
	store store.Store
}

func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// ValidateHandshake checks the local negotiated version, the counterparty
// offer (when non-empty) and the ordering.
func ValidateHandshake(ch Channel, counterpartyVersion string) error {
	if ch.Version != protocol.Version {
		return VersionError{Version: ch.Version}
	}
	if counterpartyVersion != "" && counterpartyVersion != protocol.Version {
		return VersionError{Version: counterpartyVersion}
	}
	if ch.Order != OrderUnordered {
		return ErrOrderedChannel
	}
	return nil
}

// Open is the open step: validation only. It answers with the agreed version.
func (m *Manager) Open(ctx context.Context, ch Channel, counterpartyVersion string) (string, error) {
	if err := ValidateHandshake(ch, counterpartyVersion); err != nil {
		return "", err
	}
	if err := m.RejectIfKnown(ctx, ch.Endpoint.ChannelID); err != nil {
		return "", err
	}
	log.Debug().
		Str("channel", ch.Endpoint.ChannelID).
		Str("state", string(StateProposed)).
		Msg("channel.Manager.Open accepted")
	return protocol.Version, nil
}

// Connect is the connect step: validation then Record.
func (m *Manager) Connect(ctx context.Context, ch Channel, counterpartyVersion string) (Info, error) {
	if err := ValidateHandshake(ch, counterpartyVersion); err != nil {
		return Info{}, err
	}
	if err := m.RejectIfKnown(ctx, ch.Endpoint.ChannelID); err != nil {
		return Info{}, err
	}
	return m.Record(ctx, ch)
}

// Close always fails; open channels are permanent.
func (m *Manager) Close(_ context.Context, channelID string) error {
	return fmt.Errorf("%w: channel=%s", ErrChannelClosingNotAllowed, channelID)
}

// RejectIfKnown fails when channelID is already registered.
func (m *Manager) RejectIfKnown(ctx context.Context, channelID string) error {
	id, err := normalizeID(channelID)
	if err != nil {
		return err
	}
	known, err := m.store.Has(ctx, keyPrefix+id)
	if err != nil {
		return fmt.Errorf("channel: registry lookup %s: %w", id, err)
	}
	if known {
		return fmt.Errorf("%w: channel=%s", ErrChannelAlreadyExists, id)
	}
	return nil
}

// Record persists the Info for ch. A concurrent writer that got there first
// turns into ErrChannelAlreadyExists and the stored record is left as is.
func (m *Manager) Record(ctx context.Context, ch Channel) (Info, error) {
	if _, err := normalizeID(ch.Endpoint.ChannelID); err != nil {
		return Info{}, err
	}
	info := InfoFrom(ch)
	raw, err := json.Marshal(info)
	if err != nil {
		return Info{}, err
	}
	inserted, err := m.store.InsertIfAbsent(ctx, keyPrefix+info.ChannelID, raw)
	if err != nil {
		return Info{}, fmt.Errorf("channel: registry insert %s: %w", info.ChannelID, err)
	}
	if !inserted {
		return Info{}, fmt.Errorf("%w: channel=%s", ErrChannelAlreadyExists, info.ChannelID)
	}
	log.Debug().
		Str("channel", info.ChannelID).
		Str("connection", info.ConnectionID).
		Str("counterparty_channel", info.CounterpartyEndpoint.ChannelID).
		Str("state", string(StateOpen)).
		Msg("channel.Manager.Record stored")
	return info, nil
}

// RequireKnown gates every packet path on a connected channel. An id that
// differs from its registered spelling in any byte is unknown.
func (m *Manager) RequireKnown(ctx context.Context, channelID string) error {
	id, err := normalizeID(channelID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownChannel, err)
	}
	known, err := m.store.Has(ctx, keyPrefix+id)
	if err != nil {
		return fmt.Errorf("channel: registry lookup %s: %w", id, err)
	}
	if !known {
		return fmt.Errorf("%w: channel=%s", ErrUnknownChannel, id)
	}
	return nil
}

// Get returns the registered Info for channelID.
func (m *Manager) Get(ctx context.Context, channelID string) (Info, error) {
	if err := m.RequireKnown(ctx, channelID); err != nil {
		return Info{}, err
	}
	raw, err := m.store.Get(ctx, keyPrefix+channelID)
	if err != nil {
		return Info{}, fmt.Errorf("channel: registry read %s: %w", channelID, err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, fmt.Errorf("channel: registry decode %s: %w", channelID, err)
	}
	return info, nil
}

// List returns every registered channel ordered by id.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	keys, err := m.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(keys))
	for _, key := range keys {
		info, err := m.Get(ctx, strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// normalizeID accepts only canonical ids; a padded spelling never aliases a
// registered channel.
func normalizeID(channelID string) (string, error) {
	id := strings.TrimSpace(channelID)
	if id == "" {
		return "", ErrMissingChannelID
	}
	if id != channelID {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannelID, channelID)
	}
	return id, nil
}
