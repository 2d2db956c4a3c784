package repository

import (
	"context"

	"taskflow/internal/models"
	"taskflow/internal/store"
)

const (
	prefixNotification         = "notification"
	prefixNotificationReminder = "notification-reminder"
	prefixRecurringEvent       = "recurring-event"
)

type notificationIndex struct {
	NotificationID string `json:"notification_id"`
}

// Notifications stores notifications keyed by id plus a reminder index so
// a redelivered reminder does not notify twice.
type Notifications struct {
	store store.Store
}

func NewNotifications(s store.Store) *Notifications {
	return &Notifications{store: s}
}

func (r *Notifications) Get(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	found, err := r.store.Get(ctx, store.Key(prefixNotification, id), &n)
	if err != nil || !found {
		return nil, err
	}
	return &n, nil
}

// IDForReminder returns the notification already created for reminderID, or "".
func (r *Notifications) IDForReminder(ctx context.Context, reminderID string) (string, error) {
	var idx notificationIndex
	if _, err := r.store.Get(ctx, store.Key(prefixNotificationReminder, reminderID), &idx); err != nil {
		return "", err
	}
	return idx.NotificationID, nil
}

func (r *Notifications) Save(ctx context.Context, n *models.Notification) error {
	if err := r.store.Save(ctx, store.Key(prefixNotification, n.NotificationID), n); err != nil {
		return err
	}
	return r.store.Save(ctx, store.Key(prefixNotificationReminder, n.ReminderID),
		notificationIndex{NotificationID: n.NotificationID})
}

type recurringMarker struct {
	TaskID string `json:"task_id"`
}

// Recurrences remembers which completion events already produced a new
// instance.
type Recurrences struct {
	store store.Store
}

func NewRecurrences(s store.Store) *Recurrences {
	return &Recurrences{store: s}
}

// Spawned returns the id of the instance created for eventID, or "".
func (r *Recurrences) Spawned(ctx context.Context, eventID string) (string, error) {
	var m recurringMarker
	if _, err := r.store.Get(ctx, store.Key(prefixRecurringEvent, eventID), &m); err != nil {
		return "", err
	}
	return m.TaskID, nil
}

func (r *Recurrences) MarkSpawned(ctx context.Context, eventID, taskID string) error {
	return r.store.Save(ctx, store.Key(prefixRecurringEvent, eventID), recurringMarker{TaskID: taskID})
}
