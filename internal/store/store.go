// Package store owns the insert-only key-value registry backends.
//
// No update or delete is exposed: once a key is written it is permanent.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("store: key not found")
	ErrEmptyKey      = errors.New("store: empty key")
	ErrUnknownDriver = errors.New("store: unknown driver")
)

// Store is an append-only key-value registry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	// InsertIfAbsent writes value under key only when key is unset and
	// reports whether the write happened.
	InsertIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	// Keys lists keys with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Config selects and configures a backend.
type Config struct {
	Driver    string
	Addr      string
	Password  string
	DB        int
	Namespace string
}

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Open builds the backend named by cfg.Driver. Empty selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverRedis:
		return NewRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}
