package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLogger persists audit events to a SQLite database, giving the
// kernel a durable sink that survives process restarts. Grounded on
// the teacher's pkg/audit SQLite logger (schema and retention shape);
// the teacher's event-signing (CryptoMgr) is dropped here — this
// domain has no authentication subsystem to key signatures off of, and
// spec.md's Non-goals exclude auth beyond the admission gate, so
// signing would have nothing to authenticate against (see DESIGN.md).
type SQLiteLogger struct {
	db            *sql.DB
	retentionDays int
}

// SQLiteLoggerConfig configures a SQLiteLogger.
type SQLiteLoggerConfig struct {
	DataDir       string
	RetentionDays int
}

const defaultRetentionDays = 90

// NewSQLiteLogger opens (creating if needed) <DataDir>/audit.db and
// ensures the events table exists.
func NewSQLiteLogger(cfg SQLiteLoggerConfig) (*SQLiteLogger, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("audit: data dir is required")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "audit.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	operation_id TEXT NOT NULL,
	operation_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	context TEXT,
	error TEXT,
	duration_ms INTEGER,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_events_operation_type ON audit_events(operation_type);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}

	return &SQLiteLogger{db: db, retentionDays: cfg.RetentionDays}, nil
}

// GetRetentionDays returns the configured retention window.
func (l *SQLiteLogger) GetRetentionDays() int { return l.retentionDays }

// Log inserts event, JSON-encoding its Context map.
func (l *SQLiteLogger) Log(event Event) error {
	var ctxJSON []byte
	if event.Context != nil {
		var err error
		ctxJSON, err = json.Marshal(event.Context)
		if err != nil {
			return fmt.Errorf("audit: marshal context: %w", err)
		}
	}

	_, err := l.db.Exec(
		`INSERT INTO audit_events (id, operation_id, operation_type, event_type, context, error, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.OperationID, event.OperationType, string(event.EventType),
		string(ctxJSON), event.Error, event.DurationMS, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Query returns events matching filter, newest-first.
func (l *SQLiteLogger) Query(filter QueryFilter) ([]Event, error) {
	query := `SELECT id, operation_id, operation_type, event_type, context, error, duration_ms, timestamp FROM audit_events WHERE 1=1`
	var args []interface{}

	if filter.ID != "" {
		query += ` AND id = ?`
		args = append(args, filter.ID)
	}
	if filter.OperationType != "" {
		query += ` AND operation_type = ?`
		args = append(args, filter.OperationType)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ctxJSON, eventType sql.NullString
		if err := rows.Scan(&e.ID, &e.OperationID, &e.OperationType, &eventType, &ctxJSON, &e.Error, &e.DurationMS, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		e.EventType = EventType(eventType.String)
		if ctxJSON.Valid && ctxJSON.String != "" {
			_ = json.Unmarshal([]byte(ctxJSON.String), &e.Context)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of events matching filter.
func (l *SQLiteLogger) Count(filter QueryFilter) (int, error) {
	query := `SELECT COUNT(*) FROM audit_events WHERE 1=1`
	var args []interface{}

	if filter.ID != "" {
		query += ` AND id = ?`
		args = append(args, filter.ID)
	}
	if filter.OperationType != "" {
		query += ` AND operation_type = ?`
		args = append(args, filter.OperationType)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}

	var count int
	if err := l.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("audit: count: %w", err)
	}
	return count, nil
}

// PruneExpired deletes events older than the retention window.
func (l *SQLiteLogger) PruneExpired() error {
	cutoff := time.Now().AddDate(0, 0, -l.retentionDays)
	_, err := l.db.Exec(`DELETE FROM audit_events WHERE timestamp < ?`, cutoff)
	return err
}

// Close releases the underlying database handle.
func (l *SQLiteLogger) Close() error {
	return l.db.Close()
}
