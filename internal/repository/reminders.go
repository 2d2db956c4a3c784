package repository

import (
	"context"

	"taskflow/internal/models"
	"taskflow/internal/store"
)

const (
	prefixReminder     = "reminder"
	prefixTaskReminder = "task-reminder"
)

type reminderIndex struct {
	ReminderID string `json:"reminder_id"`
}

// Reminders stores reminders and the task to current-reminder index.
type Reminders struct {
	store store.Store
}

func NewReminders(s store.Store) *Reminders {
	return &Reminders{store: s}
}

func (r *Reminders) Get(ctx context.Context, id string) (*models.Reminder, error) {
	var rem models.Reminder
	found, err := r.store.Get(ctx, store.Key(prefixReminder, id), &rem)
	if err != nil || !found {
		return nil, err
	}
	return &rem, nil
}

func (r *Reminders) Save(ctx context.Context, rem *models.Reminder) error {
	return r.store.Save(ctx, store.Key(prefixReminder, rem.ReminderID), rem)
}

// CurrentID returns the id of the reminder indexed for the task, or "".
func (r *Reminders) CurrentID(ctx context.Context, taskID string) (string, error) {
	var idx reminderIndex
	if _, err := r.store.Get(ctx, store.Key(prefixTaskReminder, taskID), &idx); err != nil {
		return "", err
	}
	return idx.ReminderID, nil
}

func (r *Reminders) SetCurrent(ctx context.Context, taskID, reminderID string) error {
	return r.store.Save(ctx, store.Key(prefixTaskReminder, taskID), reminderIndex{ReminderID: reminderID})
}

// ForTask returns the reminder currently indexed for the task, or nil.
func (r *Reminders) ForTask(ctx context.Context, taskID string) (*models.Reminder, error) {
	id, err := r.CurrentID(ctx, taskID)
	if err != nil || id == "" {
		return nil, err
	}
	return r.Get(ctx, id)
}
