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

// Notifier records a delivered push notification for each fired reminder.
type Notifier struct {
	repo *repository.Notifications
	now  func() time.Time
}

func NewNotifier(repo *repository.Notifications, now func() time.Time) *Notifier {
	if now == nil {
		now = time.Now
	}
	return &Notifier{repo: repo, now: now}
}

// Handle is the queue.Handler for the reminders topic.
func (n *Notifier) Handle(ctx context.Context, env queue.Envelope) error {
	var evt models.ReminderFiredEvent
	if err := env.Decode(&evt); err != nil {
		return queue.Drop(fmt.Errorf("%w: reminder event: %v", models.ErrValidation, err))
	}
	_, err := n.Notify(ctx, evt)
	return err
}

// Notify returns the stored notification, or nil when the event was
// malformed or already notified.
func (n *Notifier) Notify(ctx context.Context, evt models.ReminderFiredEvent) (*models.Notification, error) {
	if evt.ReminderID == "" || evt.TaskID == "" {
		logger.Warn(ctx, "Reminder event missing ids, skipped", "reminder_id", evt.ReminderID, "task_id", evt.TaskID)
		return nil, nil
	}
	ctx = logger.With(ctx, "reminder_id", evt.ReminderID, "task_id", evt.TaskID)

	prev, err := n.repo.IDForReminder(ctx, evt.ReminderID)
	if err != nil {
		return nil, err
	}
	if prev != "" {
		logger.Info(ctx, "Reminder already notified", "notification_id", prev)
		return nil, nil
	}

	now := n.now().UTC()
	note := &models.Notification{
		NotificationID: uuid.New().String(),
		ReminderID:     evt.ReminderID,
		TaskID:         evt.TaskID,
		UserID:         evt.UserID,
		Channel:        models.ChannelPush,
		DeliveryStatus: models.DeliveryDelivered,
		Message:        fmt.Sprintf("Reminder: Your task %s is due soon!", evt.TaskID),
		SentAt:         &now,
		CreatedAt:      now,
	}
	if err := n.repo.Save(ctx, note); err != nil {
		logger.Error(ctx, "Saving notification failed", "error", err)
		return nil, err
	}
	logger.Info(ctx, "Notification delivered", "notification_id", note.NotificationID, "user_id", note.UserID)
	return note, nil
}
