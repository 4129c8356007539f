package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/parcelhub/parcelhub/internal/auth"
	jobmetrics "github.com/parcelhub/parcelhub/internal/jobs"
)

// SessionJobs handles the session audit tasks.
type SessionJobs struct {
	Store   auth.SessionStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSessionJobs wires the session audit handlers.
func NewSessionJobs(store auth.SessionStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionJobs {
	return &SessionJobs{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the time source for testing.
func (j *SessionJobs) WithClock(clock func() time.Time) {
	if clock != nil {
		j.clock = clock
	}
}

// Handlers lists the task handlers for worker registration.
func (j *SessionJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskSessionRecord, Handler: j.HandleRecord},
		{Type: TaskSessionsPurge, Handler: j.HandlePurge},
	}
}

// HandleRecord persists one session audit row.
func (j *SessionJobs) HandleRecord(ctx context.Context, t *asynq.Task) error {
	tracker := j.Metrics.Track("session_record")
	var s auth.Session
	if err := json.Unmarshal(t.Payload(), &s); err != nil || s.ID == "" || s.UserID <= 0 {
		j.log().Warn("session record payload rejected", slog.Any("error", err))
		return tracker.End(fmt.Errorf("session record payload: %w", asynq.SkipRetry))
	}
	if err := j.Store.CreateSession(ctx, s); err != nil {
		return tracker.End(fmt.Errorf("record session %s: %w", s.ID, err))
	}
	return tracker.End(nil)
}

// HandlePurge deletes audit rows whose token expired before the retention
// window.
func (j *SessionJobs) HandlePurge(ctx context.Context, t *asynq.Task) error {
	tracker := j.Metrics.Track("sessions_purge")
	var payload SessionsPurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(fmt.Errorf("sessions purge payload: %w", asynq.SkipRetry))
		}
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = SessionRetention
	}
	cutoff := j.clock().Add(-retention)
	n, err := j.Store.PurgeSessions(ctx, cutoff)
	if err != nil {
		return tracker.End(fmt.Errorf("purge sessions: %w", err))
	}
	j.Metrics.AddPurgedSessions(n)
	j.log().Info("sessions purged", slog.Int64("rows", n), slog.Time("cutoff", cutoff))
	return tracker.End(nil)
}

// PurgeCron returns the hourly purge registration.
func PurgeCron() (CronRegistration, error) {
	task, err := NewSessionsPurgeTask(SessionsPurgePayload{})
	if err != nil {
		return CronRegistration{}, err
	}
	return CronRegistration{Spec: SessionsPurgeSpec, Task: task, Options: []asynq.Option{asynq.Queue(QueueDefault)}}, nil
}

func (j *SessionJobs) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
