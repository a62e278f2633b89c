package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/internal/chat"
)

// PostgresStore keeps snapshots as JSONB rows, one row per key.
//
// Ownership model:
// - NewPostgresStore borrows the pool; the caller closes it.
// - OpenPostgresStore owns its pool and Close releases it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	key    string
	owned  bool
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "parley").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("persist: empty schema")
		}
		if !isValidIdent(schema) {
			return errors.New("persist: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithKey sets the snapshot row key (default: DefaultKey).
func WithKey(key string) PostgresOption {
	return func(s *PostgresStore) error {
		k, err := normalizeKey(key)
		if err != nil {
			return err
		}
		s.key = k
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed SnapshotStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "parley",
		key:    DefaultKey,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("persist: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and snapshot table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return fmt.Errorf("persist: create schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+s.table()+` (
  key      TEXT PRIMARY KEY,
  doc      JSONB NOT NULL,
  version  INTEGER NOT NULL,
  saved_at TIMESTAMPTZ NOT NULL
)`); err != nil {
		return fmt.Errorf("persist: create snapshot table: %w", err)
	}
	return nil
}

// Load implements SnapshotStore.
func (s *PostgresStore) Load(ctx context.Context) (chat.Snapshot, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM `+s.table()+` WHERE key = $1`,
		s.key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Snapshot{}, false, nil
	}
	if err != nil {
		return chat.Snapshot{}, false, fmt.Errorf("persist: load snapshot: %w", err)
	}

	snap, err := decode(raw)
	if err != nil {
		return chat.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save implements SnapshotStore.
func (s *PostgresStore) Save(ctx context.Context, snap chat.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (key, doc, version, saved_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		   SET doc = EXCLUDED.doc,
		       version = EXCLUDED.version,
		       saved_at = EXCLUDED.saved_at`,
		s.key, raw, snap.Version, savedAt,
	); err != nil {
		return fmt.Errorf("persist: save snapshot: %w", err)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) table() string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{s.schema, "snapshots"}.Sanitize()
}
