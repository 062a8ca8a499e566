package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteLogger_LogAndQuery(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{DataDir: dir})
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Log(Event{
		ID: "1", OperationID: "op-1", OperationType: "tools/call:echo",
		EventType: EventStart, Timestamp: time.Now(),
	}))
	require.NoError(t, logger.Log(Event{
		ID: "2", OperationID: "op-1", OperationType: "tools/call:echo",
		EventType: EventSuccess, DurationMS: 42, Timestamp: time.Now(),
	}))

	events, err := logger.Query(QueryFilter{OperationType: "tools/call:echo"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	count, err := logger.Count(QueryFilter{EventType: EventSuccess})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteLogger_PruneExpired(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{DataDir: dir, RetentionDays: 1})
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Log(Event{
		ID: "old", OperationID: "op-old", OperationType: "x",
		EventType: EventSuccess, Timestamp: time.Now().AddDate(0, 0, -10),
	}))
	require.NoError(t, logger.Log(Event{
		ID: "new", OperationID: "op-new", OperationType: "x",
		EventType: EventSuccess, Timestamp: time.Now(),
	}))

	require.NoError(t, logger.PruneExpired())

	count, err := logger.Count(QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteLogger_DBFileCreated(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewSQLiteLogger(SQLiteLoggerConfig{DataDir: dir})
	require.NoError(t, err)
	defer logger.Close()

	assert.FileExists(t, filepath.Join(dir, "audit.db"))
	assert.Equal(t, defaultRetentionDays, logger.GetRetentionDays())
}
