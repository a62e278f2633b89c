package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"parley/cmd/internal/chat"
)

// SQLiteStore keeps snapshots in a local SQLite database, one row per key.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// NewSQLiteStore opens (and creates when missing) the database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath, key string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("persist: empty sqlite path")
	}
	k, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("persist: create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persist: ping sqlite: %w", err)
	}

	st := &SQLiteStore{db: db, key: k}
	if err := st.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS snapshots (
		key      TEXT PRIMARY KEY,
		doc      BLOB NOT NULL,
		version  INTEGER NOT NULL,
		saved_at DATETIME NOT NULL
	);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("persist: init sqlite schema: %w", err)
	}
	return nil
}

// Load implements SnapshotStore.
func (s *SQLiteStore) Load(ctx context.Context) (chat.Snapshot, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM snapshots WHERE key = ?`, s.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
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
func (s *SQLiteStore) Save(ctx context.Context, snap chat.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, doc, version, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			doc = excluded.doc,
			version = excluded.version,
			saved_at = excluded.saved_at
	`, s.key, raw, snap.Version, savedAt); err != nil {
		return fmt.Errorf("persist: save snapshot: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
