package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const playerSchema = `
CREATE TABLE IF NOT EXISTS players (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	xp INTEGER NOT NULL DEFAULT 0,
	last_x REAL NOT NULL DEFAULT 0,
	last_y REAL NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore persists player records in a single SQLite file. WAL mode
// keeps reads open while the write-behind queue flushes.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and bootstraps the
// schema. Pass ":memory:" for an ephemeral store in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(playerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, record PlayerRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (id, name, xp, last_x, last_y, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			xp = excluded.xp,
			last_x = excluded.last_x,
			last_y = excluded.last_y,
			updated_at = excluded.updated_at`,
		record.ID, record.Name, record.XP, record.LastX, record.LastY, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save player %s: %w", record.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (PlayerRecord, error) {
	var record PlayerRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, xp, last_x, last_y, updated_at
		FROM players WHERE id = ?`, id).
		Scan(&record.ID, &record.Name, &record.XP, &record.LastX, &record.LastY, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerRecord{}, ErrNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("load player %s: %w", id, err)
	}
	return record, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
