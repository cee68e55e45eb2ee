package logstore

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"zapdesk/internal/models"
)

// Writer is a zerolog LevelWriter that mirrors warn-and-above log events into
// the log_entries table. It is attached with zerolog.MultiLevelWriter so the
// console output stays untouched.
type Writer struct {
	db       *gorm.DB
	minLevel zerolog.Level
}

// NewWriter creates a database log sink.
func NewWriter(db *gorm.DB) (*Writer, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	return &Writer{db: db, minLevel: zerolog.WarnLevel}, nil
}

// Write satisfies io.Writer. zerolog calls WriteLevel on LevelWriters, so
// plain writes are accepted and dropped.
func (w *Writer) Write(p []byte) (int, error) {
	return len(p), nil
}

// WriteLevel persists one rendered log event. Failures are swallowed: the
// sink must never take the logger down with it.
func (w *Writer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.minLevel {
		return len(p), nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		return len(p), nil
	}

	entry := models.LogEntry{
		Level: level.String(),
	}
	if v, ok := fields["correlationId"].(string); ok {
		entry.CorrelationID = v
	}
	if v, ok := fields["component"].(string); ok {
		entry.Component = v
	}
	if v, ok := fields["message"].(string); ok {
		entry.Message = v
	}

	delete(fields, "correlationId")
	delete(fields, "component")
	delete(fields, "message")
	delete(fields, "level")
	delete(fields, "time")
	if len(fields) > 0 {
		if raw, err := json.Marshal(fields); err == nil {
			entry.Fields = string(raw)
		}
	}

	w.db.Create(&entry)
	return len(p), nil
}
