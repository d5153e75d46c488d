package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/taskmon/internal/sampler"
)

// SQLiteSink keeps readings in a single WAL-mode database file
type SQLiteSink struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteSink creates a sink backed by the database at path
func NewSQLiteSink(path string) *SQLiteSink {
	return &SQLiteSink{path: path}
}

// conn opens the database on first use
func (s *SQLiteSink) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	// WAL lets the reader open the file while a killed writer's journal is
	// still around; busy_timeout covers the window where it still holds a lock.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer per handle
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.db = db
	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		taken_at DATETIME NOT NULL,
		payload TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Reset deletes every reading. The schema is created if missing.
func (s *SQLiteSink) Reset() error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM readings`); err != nil {
		return fmt.Errorf("failed to reset readings: %w", err)
	}
	return nil
}

// Append stores one snapshot as a JSON row
func (s *SQLiteSink) Append(snap sampler.Snapshot) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// task_id is stored as text, sqlite integers are signed
	_, err = db.Exec(`INSERT INTO readings (task_id, taken_at, payload) VALUES (?, ?, ?)`,
		fmt.Sprintf("%d", snap.TaskID), snap.Timestamp, string(payload))
	if err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}
	return nil
}

// ReadAll returns the readings ordered by insertion
func (s *SQLiteSink) ReadAll() ([]sampler.Snapshot, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT payload FROM readings ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	snaps := []sampler.Snapshot{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		var snap sampler.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("failed to decode reading %q: %w", payload, err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read readings: %w", err)
	}

	return snaps, nil
}

// Close closes the database handle if one was opened
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
