package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const SubjectPrefix = "nametransfer"

var (
	ErrTransportClosed = errors.New("relay: transport closed")
	ErrUnknownDriver   = errors.New("relay: unknown transport driver")
)

// Delivery is one fetched message. Ack removes it from the transport.
type Delivery struct {
	Subject string
	Data    []byte
	Ack     func() error
}

// Transport moves framed envelopes between relay stages by subject.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Fetch returns up to max queued messages without blocking past ctx or
	// the transport's own fetch wait.
	Fetch(ctx context.Context, subject string, max int) ([]Delivery, error)
	Close() error
}

// PacketSubject is where packets bound for chainID are queued.
func PacketSubject(chainID string) string {
	return fmt.Sprintf("%s.%s.packets", SubjectPrefix, subjectToken(chainID))
}

// AckSubject is where acknowledgements for packets sent by chainID are queued.
func AckSubject(chainID string) string {
	return fmt.Sprintf("%s.%s.acks", SubjectPrefix, subjectToken(chainID))
}

func subjectToken(s string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return r.Replace(strings.TrimSpace(s))
}

// MemoryTransport queues messages in process.
type MemoryTransport struct {
	mu     sync.Mutex
	queues map[string][][]byte
	closed bool
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{queues: make(map[string][][]byte)}
}

func (m *MemoryTransport) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrTransportClosed
	}
	m.queues[subject] = append(m.queues[subject], append([]byte(nil), data...))
	return nil
}

func (m *MemoryTransport) Fetch(ctx context.Context, subject string, max int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrTransportClosed
	}
	queue := m.queues[subject]
	if max <= 0 || max > len(queue) {
		max = len(queue)
	}
	out := make([]Delivery, 0, max)
	for _, data := range queue[:max] {
		out = append(out, Delivery{Subject: subject, Data: data, Ack: func() error { return nil }})
	}
	m.queues[subject] = queue[max:]
	return out, nil
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queues = make(map[string][][]byte)
	return nil
}

// TransportConfig selects and configures a transport.
type TransportConfig struct {
	Driver string
	NATS   NATSConfig
}

const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
)

func OpenTransport(ctx context.Context, cfg TransportConfig) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemoryTransport(), nil
	case DriverNATS:
		return NewNATSTransport(ctx, cfg.NATS)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
