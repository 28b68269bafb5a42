package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const defaultNamespace = "nametransfer"

// Redis is a Store backed by a redis server. Insert uses SETNX so two
// writers racing on one key cannot both win.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("store: redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: redis ping %s: %w", cfg.Addr, err)
	}
	ns := strings.TrimSpace(cfg.Namespace)
	if ns == "" {
		ns = defaultNamespace
	}
	log.Debug().Str("addr", cfg.Addr).Str("namespace", ns).Msg("store.redis connected")
	return &Redis{rdb: rdb, namespace: ns}, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) fullKey(key string) string {
	return r.namespace + ":" + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	val, err := r.rdb.Get(ctx, r.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: key=%s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	n, err := r.rdb.Exists(ctx, r.fullKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("store: redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *Redis) InsertIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	ok, err := r.rdb.SetNX(ctx, r.fullKey(key), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("store: redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	match := r.fullKey(prefix) + "*"
	trim := r.namespace + ":"
	keys := make([]string, 0)
	// SCAN may yield a key more than once.
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := r.rdb.Scan(ctx, cursor, match, 128).Result()
		if err != nil {
			return nil, fmt.Errorf("store: redis scan %s: %w", match, err)
		}
		for _, k := range batch {
			k = strings.TrimPrefix(k, trim)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}
