package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/socratic-mirror/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	putMaxRetries = 3
	putBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	slotMu sync.Mutex // serializes slot writes to avoid SQLITE_BUSY
	now    func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS state_slots (
		slot TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSlot retrieves a slot by name.
func (s *SQLiteStore) GetSlot(ctx context.Context, name string) (*Slot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT slot, payload, updated_at FROM state_slots WHERE slot = ?`, name)

	var slot Slot
	var payload string
	err := row.Scan(&slot.Name, &payload, &slot.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan slot row: %w", err)
	}
	slot.Payload = []byte(payload)
	return &slot, nil
}

// PutSlot overwrites a slot with a single upsert.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) PutSlot(ctx context.Context, name string, payload []byte) error {
	err := shared.RetryOnConflict(ctx, putMaxRetries, putBaseDelay, func() error {
		return s.putSlotOnce(ctx, name, payload)
	}, func(attempt int, delay time.Duration) {
		slog.Debug("PutSlot failed with SQLITE_BUSY, retrying",
			"slot", name,
			"attempt", attempt,
			"delay", delay)
	})
	if err != nil {
		return fmt.Errorf("put slot %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) putSlotOnce(ctx context.Context, name string, payload []byte) error {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	query := `
	INSERT INTO state_slots (slot, payload, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(slot) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, name, string(payload), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert slot: %w", err)
	}
	return nil
}

// DeleteSlot removes a slot.
func (s *SQLiteStore) DeleteSlot(ctx context.Context, name string) error {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM state_slots WHERE slot = ?`, name); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

// DeleteLegacySlots removes the named pre-migration slots.
func (s *SQLiteStore) DeleteLegacySlots(ctx context.Context, names ...string) (int64, error) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	var total int64
	for _, name := range names {
		res, err := s.db.ExecContext(ctx, `DELETE FROM state_slots WHERE slot = ?`, name)
		if err != nil {
			return total, fmt.Errorf("delete legacy slot %s: %w", name, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("legacy slot rows affected: %w", err)
		}
		total += rows
	}
	return total, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
