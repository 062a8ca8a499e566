// Package audit defines the structured event log emitted by the
// Security/Audit Kernel (spec.md §4.5) and two concrete sinks: a
// console logger for local/dev use and a SQLite-backed logger for
// durable storage, mirroring the teacher's pkg/audit console/SQLite
// logger split.
package audit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType enumerates the kernel's audit event kinds (spec.md §4.5).
type EventType string

const (
	EventStart   EventType = "operation_start"
	EventSuccess EventType = "operation_success"
	EventFailure EventType = "operation_failure"
	EventSnapshotDeleted EventType = "snapshot_deleted"
)

// Event is one structured audit record. Context is echoed verbatim
// from the caller; the kernel never redacts it (spec.md §4.5).
type Event struct {
	ID            string                 `json:"id"`
	OperationID   string                 `json:"operation_id"`
	OperationType string                 `json:"operation_type"`
	EventType     EventType              `json:"event_type"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Error         string                 `json:"error,omitempty"`
	DurationMS    int64                  `json:"duration_ms,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// QueryFilter narrows Query results. A zero-value filter matches
// everything.
type QueryFilter struct {
	ID            string
	OperationType string
	EventType     EventType
	Since         time.Time
	Limit         int
}

// Logger is the sink the kernel writes audit events through.
type Logger interface {
	Log(event Event) error
	Query(filter QueryFilter) ([]Event, error)
	Count(filter QueryFilter) (int, error)
	Close() error
}

// ConsoleLogger writes events through zerolog and keeps nothing
// queryable; it is the default sink for local/dev runs where no
// snapshot/audit directory has been configured.
type ConsoleLogger struct{}

// NewConsoleLogger returns a Logger that only writes structured log
// lines; Query/Count always report empty, matching the teacher's
// ConsoleLogger contract.
func NewConsoleLogger() *ConsoleLogger { return &ConsoleLogger{} }

func (c *ConsoleLogger) Log(event Event) error {
	entry := log.Info()
	if event.EventType == EventFailure {
		entry = log.Warn()
	}
	entry.
		Str("audit_id", event.ID).
		Str("operation_id", event.OperationID).
		Str("operation_type", event.OperationType).
		Str("event_type", string(event.EventType)).
		Int64("duration_ms", event.DurationMS).
		Str("error", event.Error).
		Interface("context", event.Context).
		Msg("audit event")
	return nil
}

func (c *ConsoleLogger) Query(QueryFilter) ([]Event, error) { return nil, nil }
func (c *ConsoleLogger) Count(QueryFilter) (int, error)     { return 0, nil }
func (c *ConsoleLogger) Close() error                       { return nil }

var (
	loggerMu     sync.RWMutex
	globalLogger Logger
)

// SetLogger installs the process-wide audit sink.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	globalLogger = l
}

// GetLogger returns the process-wide audit sink, defaulting to a
// ConsoleLogger if none has been set yet.
func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewConsoleLogger()
	}
	return globalLogger
}
