package relay

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// PacketKey identifies a sent packet on its source chain.
type PacketKey struct {
	ChainID   string
	ChannelID string
	Sequence  uint64
}

func (k PacketKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.ChainID, k.ChannelID, k.Sequence)
}

// PendingPacket tracks one packet the relayer has picked up but not yet
// settled on its source chain.
type PendingPacket struct {
	Key           PacketKey
	Attempts      int
	Published     bool
	QueuedAt      time.Time
	LastAttemptAt time.Time
	NextAttemptAt time.Time
	TimeoutAt     time.Time
	LastError     string
}

// Outbox stores pending packets by key.
type Outbox struct {
	mu    sync.RWMutex
	items map[PacketKey]PendingPacket
}

func NewOutbox() *Outbox {
	return &Outbox{
		items: make(map[PacketKey]PendingPacket),
	}
}

func (o *Outbox) Upsert(item PendingPacket) {
	if strings.TrimSpace(item.Key.ChainID) == "" || strings.TrimSpace(item.Key.ChannelID) == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[item.Key] = item
}

// MarkAttempt records one publish attempt. An empty lastErr marks the packet
// published.
func (o *Outbox) MarkAttempt(key PacketKey, at time.Time, next time.Time, lastErr string) (PendingPacket, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingPacket{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.NextAttemptAt = next
	item.LastError = strings.TrimSpace(lastErr)
	item.Published = item.LastError == ""
	o.items[key] = item
	return item, true
}

func (o *Outbox) Remove(key PacketKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *Outbox) Get(key PacketKey) (PendingPacket, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[key]
	return item, ok
}

// Count returns the number of pending packets from chainID.
func (o *Outbox) Count(chainID string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for k := range o.items {
		if k.ChainID == chainID {
			n++
		}
	}
	return n
}

func (o *Outbox) List() []PendingPacket {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingPacket, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.ChainID != b.ChainID {
			return a.ChainID < b.ChainID
		}
		if a.ChannelID != b.ChannelID {
			return a.ChannelID < b.ChannelID
		}
		return a.Sequence < b.Sequence
	})
	return out
}
