package worker

import (
	"context"
	"fmt"
	"time"

	"taskflow/internal/client"
	"taskflow/internal/models"
	"taskflow/internal/queue"
	"taskflow/internal/repository"
	"taskflow/pkg/logger"
)

// NextDueDate advances from by one period of pattern. Monthly clamps the
// day to 28 so every month has it.
func NextDueDate(pattern models.Recurrence, from time.Time) (time.Time, error) {
	switch pattern {
	case models.RecurrenceDaily:
		return from.AddDate(0, 0, 1), nil
	case models.RecurrenceWeekly:
		return from.AddDate(0, 0, 7), nil
	case models.RecurrenceMonthly:
		year, month := from.Year(), from.Month()+1
		if month > time.December {
			month = time.January
			year++
		}
		day := min(from.Day(), 28)
		return time.Date(year, month, day, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("%w %q", models.ErrUnknownRecurrence, pattern)
	}
}

// Recurring creates the next instance of a recurring task when the
// current one is completed. The next due date counts from now, not from
// the old due date.
type Recurring struct {
	tasks   client.Tasks
	spawned *repository.Recurrences
	now     func() time.Time
}

func NewRecurring(tasks client.Tasks, spawned *repository.Recurrences, now func() time.Time) *Recurring {
	if now == nil {
		now = time.Now
	}
	return &Recurring{tasks: tasks, spawned: spawned, now: now}
}

// Handle is the queue.Handler for the lifecycle topic.
func (r *Recurring) Handle(ctx context.Context, env queue.Envelope) error {
	var raw models.RawLifecycleEvent
	if err := env.Decode(&raw); err != nil {
		return queue.Drop(fmt.Errorf("%w: lifecycle event: %v", models.ErrValidation, err))
	}
	if raw.EventType != models.EventCompleted {
		return nil
	}
	evt, err := raw.Decode()
	if err != nil {
		return queue.Drop(err)
	}
	_, err = r.Spawn(ctx, evt)
	return err
}

// Spawn returns the created instance, or nil when nothing was due.
func (r *Recurring) Spawn(ctx context.Context, evt models.LifecycleEvent) (*models.Task, error) {
	done, ok := evt.Payload.(models.CompletedPayload)
	if !ok || !done.RecurrencePattern.Active() {
		return nil, nil
	}
	taskID := done.TaskID
	if taskID == "" {
		taskID = evt.TaskID
	}
	ctx = logger.With(ctx, "event_id", evt.EventID, "task_id", taskID)

	if evt.EventID != "" {
		prev, err := r.spawned.Spawned(ctx, evt.EventID)
		if err != nil {
			return nil, err
		}
		if prev != "" {
			logger.Info(ctx, "Recurring instance already created", "created_task_id", prev)
			return nil, nil
		}
	}

	original, err := r.tasks.GetTask(ctx, taskID)
	if err != nil {
		logger.Error(ctx, "Fetching recurring task failed", "error", err)
		return nil, err
	}
	if original == nil {
		logger.Warn(ctx, "Recurring task not found")
		return nil, nil
	}

	next, err := NextDueDate(done.RecurrencePattern, r.now().UTC())
	if err != nil {
		logger.Error(ctx, "Cannot compute next due date", "error", err, "pattern", done.RecurrencePattern)
		return nil, queue.Drop(err)
	}
	parent := original.ID
	in := models.TaskInput{
		Title:              original.Title,
		Description:        original.Description,
		Priority:           original.Priority,
		DueDate:            &next,
		Tags:               original.Tags,
		RecurrencePattern:  done.RecurrencePattern,
		RecurrenceParentID: &parent,
	}
	created, err := r.tasks.CreateTask(ctx, in, original.CreatedBy)
	if err != nil {
		logger.Error(ctx, "Creating recurring instance failed", "error", err)
		return nil, err
	}
	if evt.EventID != "" {
		if err := r.spawned.MarkSpawned(ctx, evt.EventID, created.ID); err != nil {
			logger.Warn(ctx, "Recurring marker not saved", "error", err, "created_task_id", created.ID)
		}
	}
	logger.Info(ctx, "Recurring instance created", "created_task_id", created.ID, "due_date", next)
	return created, nil
}
