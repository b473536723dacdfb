// Package storage persists analysis history to SQLite. Each recommendation is stored
// under its trace ID together with the tool invocation records of its session, so the
// full reasoning/tool-call history of one analysis can be retrieved later from its
// trace reference.
//
// Old rows are rotated out once the configured maximum is exceeded, keeping the
// database bounded for long-running deployments.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/polyagent/internal/models"
)

// Record is one persisted analysis: the market it concerned plus its outcome.
type Record struct {
	MarketID       string
	Question       string
	Recommendation models.Recommendation
}

// Store wraps the SQLite database. Safe for concurrent use.
type Store struct {
	db                 *sql.DB
	maxRecommendations int
}

const schema = `
CREATE TABLE IF NOT EXISTS recommendations (
	trace_id   TEXT PRIMARY KEY,
	market_id  TEXT NOT NULL,
	question   TEXT NOT NULL,
	action     TEXT NOT NULL,
	confidence REAL NOT NULL,
	reasoning  TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS tool_invocations (
	id         TEXT PRIMARY KEY,
	trace_id   TEXT NOT NULL REFERENCES recommendations(trace_id) ON DELETE CASCADE,
	tool       TEXT NOT NULL,
	input      TEXT NOT NULL,
	output     TEXT NOT NULL,
	latency_ms INTEGER NOT NULL,
	success    INTEGER NOT NULL,
	error      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_trace ON tool_invocations(trace_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_created ON recommendations(created_at);
`

// New opens (or creates) the database at dbPath. Use ":memory:" for an ephemeral
// store. maxRecommendations bounds retained history; 0 disables rotation.
func New(dbPath string, maxRecommendations int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, maxRecommendations: maxRecommendations}, nil
}

// SaveRecommendation persists one analysis outcome with its tool invocations.
func (s *Store) SaveRecommendation(marketID, question string, rec models.Recommendation) error {
	if rec.TraceID == "" {
		return fmt.Errorf("recommendation has no trace ID")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO recommendations (trace_id, market_id, question, action, confidence, reasoning, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, marketID, question, string(rec.Action), rec.Confidence, rec.Reasoning, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recommendation: %w", err)
	}

	for _, inv := range rec.ToolInvocations {
		_, err = tx.Exec(
			`INSERT INTO tool_invocations (id, trace_id, tool, input, output, latency_ms, success, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, rec.TraceID, inv.Tool, inv.Input, inv.Output, inv.Latency.Milliseconds(), inv.Success, inv.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to insert tool invocation: %w", err)
		}
	}

	if s.maxRecommendations > 0 {
		_, err = tx.Exec(
			`DELETE FROM recommendations WHERE trace_id NOT IN (
				SELECT trace_id FROM recommendations ORDER BY created_at DESC LIMIT ?
			)`,
			s.maxRecommendations,
		)
		if err != nil {
			return fmt.Errorf("failed to rotate recommendations: %w", err)
		}
	}

	return tx.Commit()
}

// GetByTrace retrieves one persisted analysis by its trace reference.
func (s *Store) GetByTrace(traceID string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT market_id, question, action, confidence, reasoning, created_at
		 FROM recommendations WHERE trace_id = ?`, traceID)

	var rec Record
	var action string
	var createdAt time.Time
	if err := row.Scan(&rec.MarketID, &rec.Question, &action, &rec.Recommendation.Confidence,
		&rec.Recommendation.Reasoning, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("trace not found: %s", traceID)
		}
		return nil, fmt.Errorf("failed to load recommendation: %w", err)
	}
	rec.Recommendation.Action = models.Action(action)
	rec.Recommendation.TraceID = traceID
	rec.Recommendation.Timestamp = createdAt

	rows, err := s.db.Query(
		`SELECT id, tool, input, output, latency_ms, success, error
		 FROM tool_invocations WHERE trace_id = ? ORDER BY rowid`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool invocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var inv models.ToolInvocationRecord
		var latencyMs int64
		if err := rows.Scan(&inv.ID, &inv.Tool, &inv.Input, &inv.Output, &latencyMs, &inv.Success, &inv.Error); err != nil {
			return nil, fmt.Errorf("failed to scan tool invocation: %w", err)
		}
		inv.Latency = time.Duration(latencyMs) * time.Millisecond
		rec.Recommendation.ToolInvocations = append(rec.Recommendation.ToolInvocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tool invocations: %w", err)
	}

	return &rec, nil
}

// Recent returns the n most recently stored analyses, newest first, without their
// tool invocations.
func (s *Store) Recent(n int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT trace_id, market_id, question, action, confidence, reasoning, created_at
		 FROM recommendations ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var action string
		var createdAt time.Time
		if err := rows.Scan(&rec.Recommendation.TraceID, &rec.MarketID, &rec.Question, &action,
			&rec.Recommendation.Confidence, &rec.Recommendation.Reasoning, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		rec.Recommendation.Action = models.Action(action)
		rec.Recommendation.Timestamp = createdAt
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recommendations: %w", err)
	}
	return records, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
