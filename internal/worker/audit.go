// Package worker holds the background consumers bound to the lifecycle and
// reminder topics. Every handler tolerates redelivery.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/models"
	"taskflow/internal/queue"
	"taskflow/internal/repository"
	"taskflow/pkg/logger"
)

// Audit persists one entry per distinct lifecycle event id.
type Audit struct {
	repo *repository.AuditLog
	now  func() time.Time
}

func NewAudit(repo *repository.AuditLog, now func() time.Time) *Audit {
	if now == nil {
		now = time.Now
	}
	return &Audit{repo: repo, now: now}
}

// Handle is the queue.Handler for the lifecycle topic.
func (a *Audit) Handle(ctx context.Context, env queue.Envelope) error {
	var evt models.RawLifecycleEvent
	if err := env.Decode(&evt); err != nil {
		return queue.Drop(fmt.Errorf("%w: audit event: %v", models.ErrValidation, err))
	}
	_, err := a.Record(ctx, evt)
	return err
}

// Record stores evt unless its id was already recorded. It returns the
// stored entry, or nil for a duplicate.
func (a *Audit) Record(ctx context.Context, evt models.RawLifecycleEvent) (*models.AuditLogEntry, error) {
	if evt.EventID == "" {
		return nil, queue.Drop(fmt.Errorf("%w: audit event without event_id", models.ErrValidation))
	}
	ctx = logger.With(ctx, "event_id", evt.EventID, "event_type", evt.EventType)

	logID, err := a.repo.LogIDForEvent(ctx, evt.EventID)
	if err != nil {
		return nil, err
	}
	if logID != "" {
		logger.Info(ctx, "Duplicate event skipped", "log_id", logID)
		return nil, nil
	}

	received := a.now().UTC()
	entry := &models.AuditLogEntry{
		LogID:          uuid.New().String(),
		EventID:        evt.EventID,
		EventType:      evt.EventType,
		TaskID:         evt.TaskID,
		Payload:        evt.Payload,
		UserID:         evt.UserID,
		EventTimestamp: received,
		ReceivedAt:     received,
	}
	if evt.Timestamp != nil && !evt.Timestamp.IsZero() {
		entry.EventTimestamp = evt.Timestamp.UTC()
	}
	if err := a.repo.Append(ctx, entry); err != nil {
		logger.Error(ctx, "Audit append failed", "error", err)
		return nil, err
	}
	logger.Info(ctx, "Audit entry recorded", "log_id", entry.LogID, "task_id", entry.TaskID)
	return entry, nil
}
