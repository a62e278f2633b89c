package app

import (
	"context"
	"fmt"
	"strings"

	"parley/cmd/internal/persist"
)

// snapshotBackend owns the configured SnapshotStore and whatever it runs on.
// A zero value means persistence is disabled.
type snapshotBackend struct {
	name  string
	store persist.SnapshotStore
	ready readinessCheck
}

func (b snapshotBackend) enabled() bool { return b.store != nil }

// Close releases the store and the connections it owns.
func (b snapshotBackend) Close(_ context.Context) error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}

// newSnapshotBackend builds the store selected by cfg.SnapshotBackend.
func newSnapshotBackend(ctx context.Context, cfg Config, log Logger) (snapshotBackend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.SnapshotBackend))

	switch name {
	case "", BackendNone:
		log.Info("snapshot.disabled")
		return snapshotBackend{name: BackendNone}, nil

	case BackendMemory:
		log.Info("snapshot.enabled", "backend", name)
		return snapshotBackend{name: name, store: persist.NewMemoryStore()}, nil

	case BackendFile:
		st, err := persist.NewFileStore(cfg.SnapshotPath)
		if err != nil {
			return snapshotBackend{}, err
		}
		log.Info("snapshot.enabled", "backend", name, "path", st.Path())
		return snapshotBackend{name: name, store: st}, nil

	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return snapshotBackend{}, fmt.Errorf("snapshot backend %s requires PARLEY_DATABASE_URL", name)
		}
		st, err := persist.OpenPostgresStore(ctx, persist.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		}, persist.WithKey(cfg.SnapshotKey))
		if err != nil {
			return snapshotBackend{}, err
		}
		log.Info("snapshot.enabled", "backend", name, "key", cfg.SnapshotKey)
		return snapshotBackend{name: name, store: st, ready: st.Ping}, nil

	case BackendRedis:
		if cfg.RedisURL == "" {
			return snapshotBackend{}, fmt.Errorf("snapshot backend %s requires PARLEY_REDIS_URL", name)
		}
		client, err := persist.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return snapshotBackend{}, err
		}
		st, err := persist.NewRedisStore(client, cfg.SnapshotKey, 0, true)
		if err != nil {
			_ = client.Close()
			return snapshotBackend{}, err
		}
		log.Info("snapshot.enabled", "backend", name, "key", cfg.SnapshotKey)
		return snapshotBackend{name: name, store: st, ready: st.Ping}, nil

	case BackendSQLite:
		st, err := persist.NewSQLiteStore(ctx, cfg.SnapshotPath, cfg.SnapshotKey)
		if err != nil {
			return snapshotBackend{}, err
		}
		log.Info("snapshot.enabled", "backend", name, "path", cfg.SnapshotPath, "key", cfg.SnapshotKey)
		return snapshotBackend{name: name, store: st, ready: st.Ping}, nil

	default:
		return snapshotBackend{}, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}
