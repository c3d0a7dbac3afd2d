package sessionreg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

const (
	keySession = "session"
	keyPending = "pending"
	keyDemo    = "demo"
)

type redisRegistry struct {
	c      *rdb.Client
	prefix string
}

// NewRedis crea un registry sobre Redis para despliegues con más de una
// instancia del backend compartiendo la sesión del portal.
func NewRedis(addr string, db int, prefix string) Registry {
	if prefix == "" {
		prefix = "doorman"
	}
	return &redisRegistry{
		c:      rdb.NewClient(&rdb.Options{Addr: addr, DB: db}),
		prefix: prefix,
	}
}

func (r *redisRegistry) key(k string) string { return r.prefix + ":" + k }

func (r *redisRegistry) getJSON(ctx context.Context, key string, out any) error {
	b, err := r.c.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return types.ErrNotFound
		}
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("sessionreg: parse %s: %w", key, err)
	}
	return nil
}

func (r *redisRegistry) setJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sessionreg: marshal %s: %w", key, err)
	}
	if err := r.c.Set(ctx, r.key(key), b, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *redisRegistry) del(ctx context.Context, key string) error {
	if err := r.c.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *redisRegistry) Active(ctx context.Context) (*types.SessionRecord, error) {
	var rec types.SessionRecord
	if err := r.getJSON(ctx, keySession, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *redisRegistry) Commit(ctx context.Context, rec types.SessionRecord) error {
	return r.setJSON(ctx, keySession, rec)
}

func (r *redisRegistry) Invalidate(ctx context.Context) error {
	return r.del(ctx, keySession)
}

func (r *redisRegistry) SetPending(ctx context.Context, p types.PendingAuth) error {
	return r.setJSON(ctx, keyPending, p)
}

func (r *redisRegistry) Pending(ctx context.Context) (*types.PendingAuth, error) {
	var p types.PendingAuth
	if err := r.getJSON(ctx, keyPending, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *redisRegistry) ClearPending(ctx context.Context) error {
	return r.del(ctx, keyPending)
}

func (r *redisRegistry) SetDemo(ctx context.Context, enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	if err := r.c.Set(ctx, r.key(keyDemo), val, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *redisRegistry) DemoEnabled(ctx context.Context) (bool, error) {
	v, err := r.c.Get(ctx, r.key(keyDemo)).Result()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return v == "1", nil
}
