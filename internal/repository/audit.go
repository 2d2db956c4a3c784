package repository

import (
	"context"

	"taskflow/internal/models"
	"taskflow/internal/store"
)

const (
	prefixAuditLog   = "audit-log"
	prefixAuditEvent = "audit-event"
)

type auditIndex struct {
	LogID string `json:"log_id"`
}

// AuditLog stores append-only audit entries and the event_id index used to
// detect duplicates.
type AuditLog struct {
	store store.Store
}

func NewAuditLog(s store.Store) *AuditLog {
	return &AuditLog{store: s}
}

// LogIDForEvent returns the log id recorded for eventID, or "".
func (r *AuditLog) LogIDForEvent(ctx context.Context, eventID string) (string, error) {
	var idx auditIndex
	if _, err := r.store.Get(ctx, store.Key(prefixAuditEvent, eventID), &idx); err != nil {
		return "", err
	}
	return idx.LogID, nil
}

// Append writes the entry and then its index. A failure between the two
// writes leaves an unindexed entry that a redelivery will duplicate.
func (r *AuditLog) Append(ctx context.Context, e *models.AuditLogEntry) error {
	if err := r.store.Save(ctx, store.Key(prefixAuditLog, e.LogID), e); err != nil {
		return err
	}
	return r.store.Save(ctx, store.Key(prefixAuditEvent, e.EventID), auditIndex{LogID: e.LogID})
}

func (r *AuditLog) Get(ctx context.Context, logID string) (*models.AuditLogEntry, error) {
	var e models.AuditLogEntry
	found, err := r.store.Get(ctx, store.Key(prefixAuditLog, logID), &e)
	if err != nil || !found {
		return nil, err
	}
	return &e, nil
}
