package queue

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/registry"
)

type BackendOptions struct {
	DSN           string
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	Logger        *log.Logger
}

// Factory opens a Store for one backend name.
type Factory func(ctx context.Context, opts BackendOptions) (Store, error)

// Backends returns the registry of built-in store backends:
// memory, sqlite, postgres, file and redis.
func Backends() *registry.Registry[Factory] {
	r := registry.New[Factory]("queue backend")
	mustRegister(r, "memory", func(context.Context, BackendOptions) (Store, error) {
		return NewMemoryStore(), nil
	})
	mustRegister(r, "sqlite", func(_ context.Context, opts BackendOptions) (Store, error) {
		return NewGormStore("sqlite", opts.DSN, opts.Logger)
	})
	mustRegister(r, "postgres", func(_ context.Context, opts BackendOptions) (Store, error) {
		return NewGormStore("postgres", opts.DSN, opts.Logger)
	})
	mustRegister(r, "file", func(_ context.Context, opts BackendOptions) (Store, error) {
		dir := strings.TrimSpace(opts.Dir)
		if dir == "" {
			dir = filepath.Join(".genaibots", "queues")
		}
		return NewFileStore(dir, opts.Logger)
	})
	mustRegister(r, "redis", func(ctx context.Context, opts BackendOptions) (Store, error) {
		if strings.TrimSpace(opts.RedisAddr) == "" {
			return nil, fmt.Errorf("redis address is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", opts.RedisAddr, err)
		}
		return NewRedisStore(client, WithRedisPrefix(opts.RedisPrefix), WithRedisLogger(opts.Logger)), nil
	})
	return r
}

// Open resolves backend by name and opens it.
func Open(ctx context.Context, backend string, opts BackendOptions) (Store, error) {
	factory, err := Backends().Resolve(backend)
	if err != nil {
		return nil, err
	}
	store, err := factory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s queue store: %w", backend, err)
	}
	return store, nil
}

func mustRegister(r *registry.Registry[Factory], name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}
