// Package service holds the task lifecycle and reminder logic. Services
// are constructed once at startup and shared by every request handler.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/models"
	"taskflow/internal/queue"
	"taskflow/internal/repository"
	"taskflow/pkg/logger"
)

// ErrReminder wraps reminder failures that happen after the task change
// itself was persisted and published.
var ErrReminder = errors.New("reminder update failed")

// Reminders is what the task service needs from the reminder scheduler.
type Reminders interface {
	Schedule(ctx context.Context, taskID, ownerID string, due time.Time) (*models.Reminder, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
}

// Topics names the topics the task service publishes on.
type Topics struct {
	Lifecycle string
	Sync      string
}

// TaskService owns every task mutation. It does not lock across requests;
// two concurrent updates to one task race and the last save wins.
type TaskService struct {
	tasks     *repository.Tasks
	bus       queue.Publisher
	topics    Topics
	reminders Reminders
	now       func() time.Time
}

// Option configures a TaskService.
type Option func(*TaskService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *TaskService) { s.now = now }
}

// WithReminders lets the service schedule and cancel reminders as due
// dates come and go.
func WithReminders(r Reminders) Option {
	return func(s *TaskService) { s.reminders = r }
}

func NewTaskService(tasks *repository.Tasks, bus queue.Publisher, topics Topics, opts ...Option) *TaskService {
	s := &TaskService{tasks: tasks, bus: bus, topics: topics, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates and stores a new pending task owned by owner.
func (s *TaskService) Create(ctx context.Context, in models.TaskInput, owner string) (*models.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t := &models.Task{
		ID:                 uuid.New().String(),
		Title:              in.Title,
		Description:        in.Description,
		Status:             models.StatusPending,
		Priority:           in.Priority,
		DueDate:            in.DueDate,
		Tags:               in.Tags,
		RecurrencePattern:  in.RecurrencePattern,
		RecurrenceParentID: in.RecurrenceParentID,
		CreatedBy:          owner,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		t.DueDate = &d
	}

	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, err
	}
	if err := s.tasks.AddToOwner(ctx, owner, t.ID); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, t, owner, models.CreatedPayload{Task: t.Clone()}); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Task created", "task_id", t.ID, "owner", owner)

	if t.DueDate != nil && s.reminders != nil {
		if _, err := s.reminders.Schedule(ctx, t.ID, owner, *t.DueDate); err != nil {
			return t, fmt.Errorf("%w: %v", ErrReminder, err)
		}
	}
	return t, nil
}

// Get returns the task, including deleted ones, or nil when absent.
func (s *TaskService) Get(ctx context.Context, id string) (*models.Task, error) {
	return s.tasks.Get(ctx, id)
}

// Update applies the fields present in patch. When nothing differs from
// the stored task it returns the task untouched and publishes nothing.
func (s *TaskService) Update(ctx context.Context, id string, patch models.TaskPatch, actor string) (*models.Task, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	t, err := s.tasks.Get(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}

	changes := diff(t, patch)
	if len(changes) == 0 {
		return t, nil
	}
	apply(t, patch)
	s.touch(t)

	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, t, actor, models.UpdatedPayload{TaskID: t.ID, Changes: changes}); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Task updated", "task_id", t.ID, "fields", len(changes))

	if _, dueChanged := changes["due_date"]; dueChanged && s.reminders != nil {
		if t.DueDate != nil {
			_, err = s.reminders.Schedule(ctx, t.ID, t.CreatedBy, *t.DueDate)
		} else {
			_, err = s.reminders.Cancel(ctx, t.ID)
		}
		if err != nil {
			return t, fmt.Errorf("%w: %v", ErrReminder, err)
		}
	}
	return t, nil
}

// ReplaceTags is Update with only the tags set.
func (s *TaskService) ReplaceTags(ctx context.Context, id string, tags []string, actor string) (*models.Task, error) {
	if tags == nil {
		tags = []string{}
	}
	return s.Update(ctx, id, models.TaskPatch{Tags: &tags}, actor)
}

// Complete marks the task completed. It does not check the current status.
func (s *TaskService) Complete(ctx context.Context, id, actor string) (*models.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	t.Status = models.StatusCompleted
	s.touch(t)
	if err := s.tasks.Save(ctx, t); err != nil {
		return nil, err
	}
	payload := models.CompletedPayload{
		TaskID:            t.ID,
		CompletedAt:       t.UpdatedAt,
		RecurrencePattern: t.RecurrencePattern,
	}
	if err := s.publish(ctx, t, actor, payload); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Task completed", "task_id", t.ID)
	return t, s.cancelReminder(ctx, id)
}

// Delete soft-deletes the task. It reports false when the task is unknown.
func (s *TaskService) Delete(ctx context.Context, id, actor string) (bool, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil || t == nil {
		return false, err
	}
	t.Status = models.StatusDeleted
	s.touch(t)
	if err := s.tasks.Save(ctx, t); err != nil {
		return false, err
	}
	if err := s.publish(ctx, t, actor, models.DeletedPayload{TaskID: t.ID, DeletedAt: t.UpdatedAt}); err != nil {
		return false, err
	}
	logger.Info(ctx, "Task deleted", "task_id", t.ID)
	return true, s.cancelReminder(ctx, id)
}

// ListFiltered returns the owner's non-deleted tasks after the exact-match
// filters, the title search, and the sort.
func (s *TaskService) ListFiltered(ctx context.Context, owner string, f models.TaskFilter) ([]*models.Task, error) {
	all, err := s.tasks.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(f.Search)
	out := make([]*models.Task, 0, len(all))
	for _, t := range all {
		switch {
		case t.Status == models.StatusDeleted:
		case f.Status != "" && string(t.Status) != f.Status:
		case f.Priority != "" && string(t.Priority) != f.Priority:
		case f.Tag != "" && !slices.Contains(t.Tags, f.Tag):
		case search != "" && !strings.Contains(strings.ToLower(t.Title), search):
		default:
			out = append(out, t)
		}
	}
	sortTasks(out, f.SortBy, f.SortOrder)
	return out, nil
}

func (s *TaskService) cancelReminder(ctx context.Context, taskID string) error {
	if s.reminders == nil {
		return nil
	}
	if _, err := s.reminders.Cancel(ctx, taskID); err != nil {
		return fmt.Errorf("%w: %v", ErrReminder, err)
	}
	return nil
}

// touch bumps updated_at, never below created_at.
func (s *TaskService) touch(t *models.Task) {
	now := s.now().UTC()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}

// publish sends the lifecycle event and then the sync event.
func (s *TaskService) publish(ctx context.Context, t *models.Task, actor string, payload models.EventPayload) error {
	evt := models.NewLifecycleEvent(t.ID, actor, s.now().UTC(), payload)
	if err := s.bus.Publish(ctx, s.topics.Lifecycle, evt); err != nil {
		return fmt.Errorf("publish %s for %s: %w", evt.Type(), t.ID, err)
	}
	se := models.SyncEvent{EventType: evt.Type(), TaskID: t.ID, Task: t.Clone()}
	if err := s.bus.Publish(ctx, s.topics.Sync, se); err != nil {
		return fmt.Errorf("publish sync %s for %s: %w", evt.Type(), t.ID, err)
	}
	return nil
}

func diff(t *models.Task, p models.TaskPatch) map[string]models.FieldChange {
	changes := map[string]models.FieldChange{}
	if p.Title != nil && *p.Title != t.Title {
		changes["title"] = models.FieldChange{Old: t.Title, New: *p.Title}
	}
	if p.Description.Set && !equalPtr(t.Description, p.Description.Value) {
		changes["description"] = models.FieldChange{Old: deref(t.Description), New: deref(p.Description.Value)}
	}
	if p.Priority != nil && *p.Priority != t.Priority {
		changes["priority"] = models.FieldChange{Old: string(t.Priority), New: string(*p.Priority)}
	}
	if p.DueDate.Set && !equalTime(t.DueDate, p.DueDate.Value) {
		changes["due_date"] = models.FieldChange{Old: renderTime(t.DueDate), New: renderTime(p.DueDate.Value)}
	}
	if p.Tags != nil && !slices.Equal(t.Tags, *p.Tags) {
		changes["tags"] = models.FieldChange{Old: renderTags(t.Tags), New: renderTags(*p.Tags)}
	}
	if p.RecurrencePattern != nil && *p.RecurrencePattern != t.RecurrencePattern {
		changes["recurrence_pattern"] = models.FieldChange{Old: string(t.RecurrencePattern), New: string(*p.RecurrencePattern)}
	}
	return changes
}

func apply(t *models.Task, p models.TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description.Set {
		t.Description = p.Description.Value
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate.Set {
		if p.DueDate.Value == nil {
			t.DueDate = nil
		} else {
			d := p.DueDate.Value.UTC()
			t.DueDate = &d
		}
	}
	if p.Tags != nil {
		t.Tags = append([]string{}, (*p.Tags)...)
	}
	if p.RecurrencePattern != nil {
		t.RecurrencePattern = *p.RecurrencePattern
	}
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func renderTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func renderTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func sortTasks(tasks []*models.Task, by, order string) {
	var less func(a, b *models.Task) bool
	switch by {
	case "priority":
		less = func(a, b *models.Task) bool { return a.Priority.Rank() < b.Priority.Rank() }
	case "due_date":
		less = func(a, b *models.Task) bool {
			switch {
			case a.DueDate == nil:
				return false
			case b.DueDate == nil:
				return true
			}
			return a.DueDate.Before(*b.DueDate)
		}
	case "title":
		less = func(a, b *models.Task) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	default:
		less = func(a, b *models.Task) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
	if !strings.EqualFold(order, "asc") {
		asc := less
		less = func(a, b *models.Task) bool { return asc(b, a) }
	}
	sort.SliceStable(tasks, func(i, j int) bool { return less(tasks[i], tasks[j]) })
}
