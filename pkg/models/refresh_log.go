package models

import (
	"time"

	"github.com/google/uuid"
)

// DataRefreshLog is the append-only audit trail of one fetch attempt.
// An entry is created at refresh start and completed exactly once, with
// either CompleteSuccess or CompleteError; it is never mutated after that.
type DataRefreshLog struct {
	ID           uuid.UUID `json:"id"`
	DataSourceID uuid.UUID `json:"data_source_id"`
	TriggeredBy  string    `json:"triggered_by,omitempty"` // user identifier, if any

	Status           RefreshStatus  `json:"status"`
	Trigger          RefreshTrigger `json:"trigger"`
	RecordsFetched   int            `json:"records_fetched,omitempty"`
	RecordsProcessed int            `json:"records_processed,omitempty"`
	DurationMs       int64          `json:"duration_ms,omitempty"`
	DataSizeBytes    int64          `json:"data_size_bytes,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ErrorTrace       string         `json:"error_trace,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StartRefreshLog opens a log entry for a refresh attempt.
func StartRefreshLog(dataSourceID uuid.UUID, trigger RefreshTrigger) *DataRefreshLog {
	return &DataRefreshLog{
		DataSourceID: dataSourceID,
		Status:       RefreshRunning,
		Trigger:      trigger,
		StartedAt:    time.Now().UTC(),
	}
}

// CompleteSuccess finalizes the entry after a successful fetch.
func (l *DataRefreshLog) CompleteSuccess(recordsFetched, recordsProcessed int, dataSizeBytes int64) {
	now := time.Now().UTC()
	l.Status = RefreshSuccess
	l.RecordsFetched = recordsFetched
	l.RecordsProcessed = recordsProcessed
	l.DataSizeBytes = dataSizeBytes
	l.CompletedAt = &now
	l.DurationMs = now.Sub(l.StartedAt).Milliseconds()
}

// CompleteError finalizes the entry after a failed fetch.
func (l *DataRefreshLog) CompleteError(message, trace string) {
	now := time.Now().UTC()
	l.Status = RefreshError
	l.ErrorMessage = message
	l.ErrorTrace = trace
	l.CompletedAt = &now
	l.DurationMs = now.Sub(l.StartedAt).Milliseconds()
}
