package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/jobs"
	"taskflow/internal/models"
	"taskflow/internal/queue"
	"taskflow/internal/repository"
	"taskflow/pkg/logger"
)

// DefaultReminderOffset is how long before the due date a reminder fires.
const DefaultReminderOffset = 30 * time.Minute

// ReminderScheduler keeps at most one pending reminder per task and arms
// a job for it.
type ReminderScheduler struct {
	repo   *repository.Reminders
	jobs   jobs.Scheduler
	offset time.Duration
	now    func() time.Time
}

func NewReminderScheduler(repo *repository.Reminders, js jobs.Scheduler, offset time.Duration, now func() time.Time) *ReminderScheduler {
	if now == nil {
		now = time.Now
	}
	return &ReminderScheduler{repo: repo, jobs: js, offset: offset, now: now}
}

// Schedule replaces any pending reminder of the task with one that fires
// offset before due. Cancel, save and arm are separate steps; a failure
// part way is logged as a reconciliation gap and returned.
func (s *ReminderScheduler) Schedule(ctx context.Context, taskID, ownerID string, due time.Time) (*models.Reminder, error) {
	if _, err := s.Cancel(ctx, taskID); err != nil {
		return nil, fmt.Errorf("cancel previous reminder of %s: %w", taskID, err)
	}

	rem := &models.Reminder{
		ReminderID:    uuid.New().String(),
		TaskID:        taskID,
		UserID:        ownerID,
		ScheduledTime: due.Add(-s.offset).UTC(),
		Status:        models.ReminderPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.Save(ctx, rem); err != nil {
		return nil, fmt.Errorf("save reminder: %w", err)
	}
	if err := s.repo.SetCurrent(ctx, taskID, rem.ReminderID); err != nil {
		logger.Warn(ctx, "Reminder saved but not indexed, reconciliation gap", "task_id", taskID, "reminder_id", rem.ReminderID)
		return nil, fmt.Errorf("index reminder: %w", err)
	}
	job := models.ReminderJob{
		ReminderID:    rem.ReminderID,
		TaskID:        taskID,
		UserID:        ownerID,
		ScheduledTime: rem.ScheduledTime,
	}
	if err := s.jobs.Arm(ctx, rem.ReminderID, rem.ScheduledTime, job); err != nil {
		logger.Warn(ctx, "Reminder indexed but job not armed, reconciliation gap", "task_id", taskID, "reminder_id", rem.ReminderID)
		return nil, fmt.Errorf("arm reminder job: %w", err)
	}
	logger.Info(ctx, "Reminder scheduled", "task_id", taskID, "reminder_id", rem.ReminderID, "scheduled_time", rem.ScheduledTime)
	return rem, nil
}

// Cancel cancels the task's reminder if it is still pending. It reports
// false when there is none or it already fired or was cancelled.
func (s *ReminderScheduler) Cancel(ctx context.Context, taskID string) (bool, error) {
	rem, err := s.repo.ForTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if rem == nil || rem.Status != models.ReminderPending {
		return false, nil
	}
	rem.Status = models.ReminderCancelled
	if err := s.repo.Save(ctx, rem); err != nil {
		return false, fmt.Errorf("save cancelled reminder: %w", err)
	}
	if err := s.jobs.Disarm(ctx, rem.ReminderID); err != nil {
		logger.Warn(ctx, "Reminder cancelled but job not disarmed, reconciliation gap", "task_id", taskID, "reminder_id", rem.ReminderID)
		return false, fmt.Errorf("disarm reminder job: %w", err)
	}
	logger.Info(ctx, "Reminder cancelled", "task_id", taskID, "reminder_id", rem.ReminderID)
	return true, nil
}

// MarkSent moves a pending reminder to sent. It returns nil when the
// reminder is unknown or no longer pending, so a stale or repeated fire
// produces nothing downstream.
func (s *ReminderScheduler) MarkSent(ctx context.Context, reminderID string) (*models.Reminder, error) {
	rem, err := s.repo.Get(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	if rem == nil {
		return nil, nil
	}
	if rem.Status != models.ReminderPending {
		logger.Info(ctx, "Reminder fired while not pending", "reminder_id", reminderID, "status", rem.Status)
		return nil, nil
	}
	rem.Status = models.ReminderSent
	if err := s.repo.Save(ctx, rem); err != nil {
		return nil, fmt.Errorf("save sent reminder: %w", err)
	}
	return rem, nil
}

// ForTask returns the reminder currently indexed for the task, or nil.
func (s *ReminderScheduler) ForTask(ctx context.Context, taskID string) (*models.Reminder, error) {
	return s.repo.ForTask(ctx, taskID)
}

// ReminderTrigger is the job-fire callback: it marks the reminder sent and
// announces it on the reminders topic.
type ReminderTrigger struct {
	reminders *ReminderScheduler
	bus       queue.Publisher
	topic     string
}

func NewReminderTrigger(reminders *ReminderScheduler, bus queue.Publisher, topic string) *ReminderTrigger {
	return &ReminderTrigger{reminders: reminders, bus: bus, topic: topic}
}

// Fire has the jobs.FireFunc signature.
func (t *ReminderTrigger) Fire(ctx context.Context, job jobs.Job) error {
	var payload models.ReminderJob
	if len(job.Payload) > 0 {
		if err := job.Decode(&payload); err != nil {
			return fmt.Errorf("%w: reminder job payload: %v", models.ErrValidation, err)
		}
	}
	id := payload.ReminderID
	if id == "" {
		id = job.ID
	}
	if id == "" {
		return fmt.Errorf("%w: reminder job without id", models.ErrValidation)
	}

	rem, err := t.reminders.MarkSent(ctx, id)
	if err != nil {
		return err
	}
	if rem == nil {
		logger.Info(ctx, "Reminder job skipped", "reminder_id", id)
		return nil
	}
	evt := models.ReminderFiredEvent{
		ReminderID:    rem.ReminderID,
		TaskID:        rem.TaskID,
		UserID:        rem.UserID,
		ScheduledTime: rem.ScheduledTime,
		Status:        rem.Status,
	}
	if err := t.bus.Publish(ctx, t.topic, evt); err != nil {
		return fmt.Errorf("publish reminder %s: %w", rem.ReminderID, err)
	}
	logger.Info(ctx, "Reminder fired", "reminder_id", rem.ReminderID, "task_id", rem.TaskID)
	return nil
}
