package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool defaults for the snapshot sink. One persister writes; readiness probes
// borrow the second connection.
const (
	DefaultPoolMaxConns    int32 = 2
	DefaultApplicationName       = "parley-snapshot"
	defaultPingTimeout           = 3 * time.Second
)

// PoolConfig configures the pgx pool behind a PostgresStore.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ApplicationName string
}

func (c PoolConfig) pgxConfig() (*pgxpool.Config, error) {
	if strings.TrimSpace(c.URL) == "" {
		return nil, errors.New("persist: empty database url")
	}
	pcfg, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("persist: parse database url: %w", err)
	}

	pcfg.MaxConns = DefaultPoolMaxConns
	if c.MaxConns > 0 {
		pcfg.MaxConns = c.MaxConns
	}
	pcfg.MinConns = max(0, min(c.MinConns, pcfg.MaxConns))

	name := strings.TrimSpace(c.ApplicationName)
	if name == "" {
		name = DefaultApplicationName
	}
	if _, set := pcfg.ConnConfig.RuntimeParams["application_name"]; !set {
		pcfg.ConnConfig.RuntimeParams["application_name"] = name
	}
	return pcfg, nil
}

// OpenPostgresStore connects a pool, verifies it and creates the snapshot
// table. The returned store owns the pool and closes it on Close.
func OpenPostgresStore(ctx context.Context, cfg PoolConfig, opts ...PostgresOption) (*PostgresStore, error) {
	pcfg, err := cfg.pgxConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("persist: open pool: %w", err)
	}

	st, err := NewPostgresStore(pool, opts...)
	if err == nil {
		st.owned = true
		err = st.Ping(ctx)
	}
	if err == nil {
		err = st.EnsureSchema(ctx)
	}
	if err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

// Ping checks that a connection can be acquired within a few seconds.
func (s *PostgresStore) Ping(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, defaultPingTimeout)
	defer cancel()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("persist: ping postgres: %w", err)
	}
	conn.Release()
	return nil
}
