package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/parcelhub/parcelhub/internal/auth"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionRecord stores the audit row of an issued token.
	TaskSessionRecord = "auth:session.record"
	// TaskSessionsPurge deletes audit rows past retention.
	TaskSessionsPurge = "auth:sessions.purge"

	// SessionRetention is how long audit rows outlive their token.
	SessionRetention = 7 * 24 * time.Hour
	// SessionsPurgeSpec runs the purge hourly.
	SessionsPurgeSpec = "@every 1h"
)

// SessionsPurgePayload optionally overrides the retention window.
type SessionsPurgePayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewSessionRecordTask constructs the record task. The token id doubles as
// the task id so replays are deduplicated by the queue.
func NewSessionRecordTask(s auth.Session) (*asynq.Task, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionRecord, data, asynq.TaskID("session:"+s.ID), asynq.MaxRetry(5)), nil
}

// NewSessionsPurgeTask constructs the purge task.
func NewSessionsPurgeTask(payload SessionsPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsPurge, data, asynq.Unique(30*time.Minute)), nil
}
