package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/danmuck/nametransfer/internal/testutil/testlog"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedis(context.Background(), Config{Driver: DriverRedis, Addr: mr.Addr(), Namespace: "test"})
	if err != nil {
		t.Fatalf("open redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  rs,
	}
}

func TestInsertIfAbsentIsInsertOnly(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.InsertIfAbsent(ctx, "channels/ch-1", []byte("first"))
			if err != nil || !ok {
				t.Fatalf("first insert ok=%v err=%v", ok, err)
			}
			ok, err = s.InsertIfAbsent(ctx, "channels/ch-1", []byte("second"))
			if err != nil {
				t.Fatalf("second insert err=%v", err)
			}
			if ok {
				t.Fatalf("second insert should be refused")
			}
			got, err := s.Get(ctx, "channels/ch-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got) != "first" {
				t.Fatalf("value overwritten: %q", got)
			}
		})
	}
}

func TestGetHasMissingKey(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			has, err := s.Has(ctx, "nope")
			if err != nil || has {
				t.Fatalf("has=%v err=%v", has, err)
			}
			if _, err := s.Has(ctx, "  "); !errors.Is(err, ErrEmptyKey) {
				t.Fatalf("expected ErrEmptyKey, got %v", err)
			}
		})
	}
}

func TestKeysSortedByPrefix(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"channels/ch-2", "channels/ch-1", "other/x"} {
				if _, err := s.InsertIfAbsent(ctx, k, []byte("v")); err != nil {
					t.Fatalf("insert %s: %v", k, err)
				}
			}
			keys, err := s.Keys(ctx, "channels/")
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			if len(keys) != 2 || keys[0] != "channels/ch-1" || keys[1] != "channels/ch-2" {
				t.Fatalf("unexpected keys: %v", keys)
			}
		})
	}
}

func TestOpenDrivers(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s, err := Open(ctx, Config{})
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Fatalf("default driver should be memory, got %T", s)
	}
	if _, err := Open(ctx, Config{Driver: "bolt"}); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverRedis}); err == nil {
		t.Fatalf("expected error for redis without addr")
	}
}
