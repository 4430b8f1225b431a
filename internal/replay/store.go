// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package replay persists canonical inputs and outputs per capability so
// dispatches can be re-run and compared offline. It backs determinism
// checks across process restarts; the in-memory validator cache only covers
// one process lifetime.
package replay

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/assistGate/internal/capability"
)

// Record is one persisted dispatch outcome keyed by canonical input hash.
type Record struct {
	ID             int64           `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Capability     capability.ID   `json:"capability"`
	InputHash      string          `json:"input_hash"`
	CanonicalInput json.RawMessage `json:"canonical_input"`
	Output         json.RawMessage `json:"output"`
	OutputHash     string          `json:"output_hash"`
	Provenance     string          `json:"provenance"`
	Confidence     float64         `json:"confidence"`
	FallbackUsed   bool            `json:"fallback_used"`
	LatencyMs      int64           `json:"latency_ms"`
}

// Store is a SQLite-backed replay log.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	dbPath        string
	retentionDays int
	enabled       bool
}

// NewStore creates a store for the given database path. Call Initialize
// before recording.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Store{dbPath: dbPath, retentionDays: retentionDays}, nil
}

// Initialize opens the database and creates the schema.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS replay (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		capability TEXT NOT NULL,
		input_hash TEXT NOT NULL,
		canonical_input TEXT NOT NULL,
		output TEXT NOT NULL,
		output_hash TEXT NOT NULL,
		provenance TEXT NOT NULL,
		confidence REAL NOT NULL,
		fallback_used INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_replay_capability_hash ON replay(capability, input_hash);
	CREATE INDEX IF NOT EXISTS idx_replay_timestamp ON replay(timestamp);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	s.db = db
	s.enabled = true
	log.WithFields(log.Fields{"db": s.dbPath, "retention_days": s.retentionDays}).Info("Replay store initialized")

	go s.cleanupOldRecords(context.Background())
	return nil
}

// IsEnabled reports whether the store is open.
func (s *Store) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Record inserts one dispatch outcome.
func (s *Store) Record(ctx context.Context, rec *Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.enabled {
		return fmt.Errorf("replay store not initialized")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	query := `
	INSERT INTO replay (
		timestamp, capability, input_hash, canonical_input, output,
		output_hash, provenance, confidence, fallback_used, latency_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		rec.Timestamp,
		string(rec.Capability),
		rec.InputHash,
		string(rec.CanonicalInput),
		string(rec.Output),
		rec.OutputHash,
		rec.Provenance,
		rec.Confidence,
		boolToInt(rec.FallbackUsed),
		rec.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("insert replay record: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return nil
}

// Lookup returns the most recent record for a capability and input hash, or
// nil when none exists.
func (s *Store) Lookup(ctx context.Context, id capability.ID, inputHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.enabled {
		return nil, fmt.Errorf("replay store not initialized")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, capability, input_hash, canonical_input, output,
		       output_hash, provenance, confidence, fallback_used, latency_ms
		FROM replay
		WHERE capability = ? AND input_hash = ?
		ORDER BY id DESC LIMIT 1
	`, string(id), inputHash)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// Recent returns the newest records for a capability, newest first. A zero
// capability returns records across all capabilities.
func (s *Store) Recent(ctx context.Context, id capability.ID, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.enabled {
		return nil, fmt.Errorf("replay store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, timestamp, capability, input_hash, canonical_input, output,
		       output_hash, provenance, confidence, fallback_used, latency_ms
		FROM replay
	`
	args := []interface{}{}
	if id != "" {
		query += " WHERE capability = ?"
		args = append(args, string(id))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query replay records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DivergenceCheck compares a fresh output hash against the stored one for the
// same capability and input hash. Returns the stored record when the hashes
// differ, nil when they match or no record exists.
func (s *Store) DivergenceCheck(ctx context.Context, id capability.ID, inputHash, outputHash string) (*Record, error) {
	prev, err := s.Lookup(ctx, id, inputHash)
	if err != nil || prev == nil {
		return nil, err
	}
	if prev.OutputHash == outputHash {
		return nil, nil
	}
	return prev, nil
}

// Close shuts down the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) cleanupOldRecords(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM replay WHERE timestamp < ?", cutoff)
	if err != nil {
		log.WithError(err).Warn("Replay store cleanup failed")
		return
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.WithField("deleted", n).Debug("Replay store cleanup removed old records")
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var capName, input, output string
	var fallback int
	err := row.Scan(&rec.ID, &rec.Timestamp, &capName, &rec.InputHash, &input,
		&output, &rec.OutputHash, &rec.Provenance, &rec.Confidence, &fallback, &rec.LatencyMs)
	if err != nil {
		return nil, err
	}
	rec.Capability = capability.ID(capName)
	rec.CanonicalInput = json.RawMessage(input)
	rec.Output = json.RawMessage(output)
	rec.FallbackUsed = fallback != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
