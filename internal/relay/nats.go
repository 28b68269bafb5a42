package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL            string
	Stream         string
	MemoryStorage  bool
	FetchWait      time.Duration
	ConnectTimeout time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Stream:         "NAMETRANSFER",
		FetchWait:      250 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
	}
}

// NATSTransport keeps relay envelopes in one JetStream stream. Each subject
// is read through its own durable pull consumer with explicit acks, so an
// envelope fetched but never acked is redelivered.
type NATSTransport struct {
	cfg    NATSConfig
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
}

func NewNATSTransport(ctx context.Context, cfg NATSConfig) (*NATSTransport, error) {
	def := DefaultNATSConfig()
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = def.URL
	}
	if strings.TrimSpace(cfg.Stream) == "" {
		cfg.Stream = def.Stream
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = def.FetchWait
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("nametransfer-relay"), nats.Timeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("relay: nats connect %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: jetstream: %w", err)
	}
	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{SubjectPrefix + ".>"},
		Storage:  storage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: stream %s: %w", cfg.Stream, err)
	}
	log.Info().Str("url", cfg.URL).Str("stream", cfg.Stream).Msg("relay.NATSTransport connected")
	return &NATSTransport{
		cfg:       cfg,
		conn:      conn,
		js:        js,
		stream:    stream,
		consumers: make(map[string]jetstream.Consumer),
	}, nil
}

func (n *NATSTransport) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("relay: publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATSTransport) consumer(ctx context.Context, subject string) (jetstream.Consumer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.consumers[subject]; ok {
		return c, nil
	}
	c, err := n.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "relay_" + strings.ReplaceAll(subject, ".", "_"),
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: consumer %s: %w", subject, err)
	}
	n.consumers[subject] = c
	return c, nil
}

func (n *NATSTransport) Fetch(ctx context.Context, subject string, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 64
	}
	c, err := n.consumer(ctx, subject)
	if err != nil {
		return nil, err
	}
	wait := n.cfg.FetchWait
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < wait {
			wait = left
		}
	}
	if wait <= 0 {
		return nil, context.DeadlineExceeded
	}
	batch, err := c.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("relay: fetch %s: %w", subject, err)
	}
	out := make([]Delivery, 0)
	for msg := range batch.Messages() {
		msg := msg
		out = append(out, Delivery{Subject: msg.Subject(), Data: msg.Data(), Ack: msg.Ack})
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		return out, fmt.Errorf("relay: fetch %s: %w", subject, err)
	}
	return out, nil
}

func (n *NATSTransport) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
