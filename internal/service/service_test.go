package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/jobs"
	"taskflow/internal/models"
	"taskflow/internal/queue"
	"taskflow/internal/repository"
	"taskflow/internal/store"
)

const (
	lifecycleTopic = "task-events"
	syncTopic      = "task-updates"
	reminderTopic  = "reminders"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fakeJobs struct {
	mu    sync.Mutex
	armed map[string]time.Time
}

func (f *fakeJobs) Arm(_ context.Context, id string, at time.Time, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[id] = at
	return nil
}

func (f *fakeJobs) Disarm(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, id)
	return nil
}

type fixture struct {
	svc       *TaskService
	reminders *ReminderScheduler
	bus       *queue.Memory
	jobs      *fakeJobs
	remRepo   *repository.Reminders
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	bus := queue.NewMemory()
	t.Cleanup(func() { _ = bus.Close() })
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	js := &fakeJobs{armed: map[string]time.Time{}}
	remRepo := repository.NewReminders(mem)
	reminders := NewReminderScheduler(remRepo, js, DefaultReminderOffset, clock.Now)
	svc := NewTaskService(repository.NewTasks(mem), bus, Topics{Lifecycle: lifecycleTopic, Sync: syncTopic},
		WithClock(clock.Now), WithReminders(reminders))
	return &fixture{svc: svc, reminders: reminders, bus: bus, jobs: js, remRepo: remRepo}
}

func (f *fixture) lifecycle(t *testing.T) []models.LifecycleEvent {
	t.Helper()
	var out []models.LifecycleEvent
	for _, env := range f.bus.History(lifecycleTopic) {
		var e models.LifecycleEvent
		require.NoError(t, env.Decode(&e))
		out = append(out, e)
	}
	return out
}

func (f *fixture) syncs(t *testing.T) []models.SyncEvent {
	t.Helper()
	var out []models.SyncEvent
	for _, env := range f.bus.History(syncTopic) {
		var e models.SyncEvent
		require.NoError(t, env.Decode(&e))
		out = append(out, e)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestCreateDefaultsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, models.TaskInput{Title: "Write report"}, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, models.PriorityMedium, task.Priority)
	assert.Equal(t, "u1", task.CreatedBy)
	assert.Equal(t, []string{}, task.Tags)
	assert.False(t, task.UpdatedAt.Before(task.CreatedAt))

	events := f.lifecycle(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCreated, events[0].Type())
	created, ok := events[0].Payload.(models.CreatedPayload)
	require.True(t, ok)
	assert.Equal(t, "Write report", created.Task.Title)
	require.Len(t, f.syncs(t), 1)

	got, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), models.TaskInput{Title: "   "}, "u1")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, f.bus.History(lifecycleTopic))
}

func TestUpdateWithCurrentValuesPublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, models.TaskInput{Title: "Same", Priority: models.PriorityHigh, Tags: []string{"a"}}, "u1")
	require.NoError(t, err)

	got, err := f.svc.Update(ctx, task.ID, models.TaskPatch{
		Title:       ptr("Same"),
		Priority:    ptr(models.PriorityHigh),
		Tags:        &[]string{"a"},
		Description: models.Null[string](),
		DueDate:     models.Null[time.Time](),
	}, "u1")
	require.NoError(t, err)
	assert.Equal(t, task.UpdatedAt, got.UpdatedAt)
	assert.Len(t, f.lifecycle(t), 1)
	assert.Len(t, f.syncs(t), 1)
}

func TestUpdateDiffRendersStrings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, models.TaskInput{Title: "Old", Tags: []string{"x"}}, "u1")
	require.NoError(t, err)

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := f.svc.Update(ctx, task.ID, models.TaskPatch{
		Title:   ptr("New"),
		DueDate: models.Some(due),
		Tags:    &[]string{"x", "y"},
	}, "u2")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
	assert.True(t, got.UpdatedAt.After(task.CreatedAt))

	events := f.lifecycle(t)
	require.Len(t, events, 2)
	upd, ok := events[1].Payload.(models.UpdatedPayload)
	require.True(t, ok)
	assert.Equal(t, "u2", events[1].UserID)
	assert.Equal(t, models.FieldChange{Old: "Old", New: "New"}, upd.Changes["title"])
	assert.Equal(t, models.FieldChange{Old: "", New: "2026-03-01T12:00:00Z"}, upd.Changes["due_date"])
	assert.Equal(t, models.FieldChange{Old: `["x"]`, New: `["x","y"]`}, upd.Changes["tags"])
	assert.NotContains(t, upd.Changes, "priority")
}

func TestUpdateUnknownTask(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.Update(context.Background(), "missing", models.TaskPatch{Title: ptr("x")}, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLifecycleEndToEndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, models.TaskInput{Title: "Flow", RecurrencePattern: models.RecurrenceDaily}, "u1")
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, task.ID, models.TaskPatch{Title: ptr("Flow 2")}, "u1")
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	ok, err := f.svc.Delete(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	want := []models.EventType{models.EventCreated, models.EventUpdated, models.EventCompleted, models.EventDeleted}
	events := f.lifecycle(t)
	syncs := f.syncs(t)
	require.Len(t, events, 4)
	require.Len(t, syncs, 4)
	for i, typ := range want {
		assert.Equal(t, typ, events[i].Type())
		assert.Equal(t, typ, syncs[i].EventType)
		assert.Equal(t, task.ID, syncs[i].TaskID)
	}
	completed := events[2].Payload.(models.CompletedPayload)
	assert.Equal(t, models.RecurrenceDaily, completed.RecurrencePattern)
	deleted := events[3].Payload.(models.DeletedPayload)
	assert.False(t, deleted.DeletedAt.IsZero())

	stored, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, stored.Status)
}

func TestCompleteIsNotGuarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, models.TaskInput{Title: "Twice"}, "u1")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, task.ID, "u1")
	require.NoError(t, err)
	again, err := f.svc.Complete(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Len(t, f.lifecycle(t), 3)

	missing, err := f.svc.Complete(ctx, "nope", "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)
	deleted, err := f.svc.Delete(ctx, "nope", "u1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestReplaceTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, models.TaskInput{Title: "Tags", Tags: []string{"a"}}, "u1")
	require.NoError(t, err)

	got, err := f.svc.ReplaceTags(ctx, task.ID, []string{"b", "c"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got.Tags)

	_, err = f.svc.ReplaceTags(ctx, task.ID, []string{" "}, "u1")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestReminderOffset(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rem, err := f.reminders.Schedule(context.Background(), "t1", "u1", due)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC), rem.ScheduledTime)
	assert.Equal(t, models.ReminderPending, rem.Status)
	assert.Equal(t, rem.ScheduledTime, f.jobs.armed[rem.ReminderID])
}

func TestRescheduleKeepsOnePendingReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task, err := f.svc.Create(ctx, models.TaskInput{Title: "Due", DueDate: &due}, "u1")
	require.NoError(t, err)

	first, err := f.reminders.ForTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "u1", first.UserID)

	_, err = f.svc.Update(ctx, task.ID, models.TaskPatch{DueDate: models.Some(due.Add(24 * time.Hour))}, "u1")
	require.NoError(t, err)

	second, err := f.reminders.ForTask(ctx, task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ReminderID, second.ReminderID)
	assert.Equal(t, due.Add(24*time.Hour-DefaultReminderOffset), second.ScheduledTime)

	old, err := f.remRepo.Get(ctx, first.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, models.ReminderCancelled, old.Status)
	assert.Len(t, f.jobs.armed, 1)

	_, err = f.svc.Update(ctx, task.ID, models.TaskPatch{DueDate: models.Null[time.Time]()}, "u1")
	require.NoError(t, err)
	cleared, _ := f.reminders.ForTask(ctx, task.ID)
	assert.Equal(t, models.ReminderCancelled, cleared.Status)
	assert.Empty(t, f.jobs.armed)
}

func TestCompleteAndDeleteCancelReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, finish := range []func(id string) error{
		func(id string) error { _, err := f.svc.Complete(ctx, id, "u1"); return err },
		func(id string) error { _, err := f.svc.Delete(ctx, id, "u1"); return err },
	} {
		task, err := f.svc.Create(ctx, models.TaskInput{Title: "Due", DueDate: &due}, "u1")
		require.NoError(t, err)
		require.NoError(t, finish(task.ID))

		rem, err := f.reminders.ForTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReminderCancelled, rem.Status)
	}
	assert.Empty(t, f.jobs.armed)
}

func TestCancelWithoutReminder(t *testing.T) {
	f := newFixture(t)
	ok, err := f.reminders.Cancel(context.Background(), "none")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReminderTriggerMarksSentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rem, err := f.reminders.Schedule(ctx, "t1", "u1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	trigger := NewReminderTrigger(f.reminders, f.bus, reminderTopic)
	payload := []byte(`{"reminder_id":"` + rem.ReminderID + `","task_id":"t1"}`)
	var fire jobs.FireFunc = trigger.Fire
	require.NoError(t, fire(ctx, jobs.Job{ID: rem.ReminderID, Payload: payload}))
	require.NoError(t, fire(ctx, jobs.Job{ID: rem.ReminderID, Payload: payload}))

	history := f.bus.History(reminderTopic)
	require.Len(t, history, 1)
	var evt models.ReminderFiredEvent
	require.NoError(t, history[0].Decode(&evt))
	assert.Equal(t, rem.ReminderID, evt.ReminderID)
	assert.Equal(t, "t1", evt.TaskID)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, models.ReminderSent, evt.Status)

	require.NoError(t, fire(ctx, jobs.Job{ID: "unknown"}))
	assert.ErrorIs(t, fire(ctx, jobs.Job{}), models.ErrValidation)
}

func TestListFiltered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mk := func(in models.TaskInput) *models.Task {
		task, err := f.svc.Create(ctx, in, "u1")
		require.NoError(t, err)
		return task
	}
	low := mk(models.TaskInput{Title: "buy Milk", Priority: models.PriorityLow, Tags: []string{"home"}})
	high := mk(models.TaskInput{Title: "Ship release", Priority: models.PriorityHigh, DueDate: &late})
	med := mk(models.TaskInput{Title: "milkshake", DueDate: &early, Tags: []string{"home"}})
	gone := mk(models.TaskInput{Title: "milk old"})
	_, err := f.svc.Delete(ctx, gone.ID, "u1")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, models.TaskInput{Title: "milk for someone else"}, "u2")
	require.NoError(t, err)

	ids := func(tasks []*models.Task) []string {
		out := make([]string, len(tasks))
		for i, t := range tasks {
			out[i] = t.ID
		}
		return out
	}
	list := func(filter models.TaskFilter) []string {
		tasks, err := f.svc.ListFiltered(ctx, "u1", filter)
		require.NoError(t, err)
		return ids(tasks)
	}

	assert.Equal(t, []string{med.ID, high.ID, low.ID}, list(models.TaskFilter{}))

	assert.ElementsMatch(t, []string{low.ID, med.ID}, list(models.TaskFilter{Search: "MILK"}))
	assert.Equal(t, []string{high.ID, med.ID, low.ID}, list(models.TaskFilter{SortBy: "priority", SortOrder: "asc"}))
	assert.Equal(t, []string{low.ID, med.ID}, list(models.TaskFilter{Tag: "home", SortBy: "priority", SortOrder: "desc"}))
	assert.Equal(t, []string{low.ID, med.ID}, list(models.TaskFilter{Tag: "home", SortBy: "priority"}))
	assert.Equal(t, []string{med.ID, low.ID}, list(models.TaskFilter{Tag: "home", SortBy: "title"}))
	assert.Equal(t, []string{high.ID}, list(models.TaskFilter{Priority: "high"}))

	assert.Equal(t, []string{med.ID, high.ID, low.ID}, list(models.TaskFilter{SortBy: "due_date", SortOrder: "asc"}))
	assert.Equal(t, []string{low.ID, med.ID}, list(models.TaskFilter{Tag: "home", SortBy: "title", SortOrder: "asc"}))
	assert.Empty(t, list(models.TaskFilter{Status: "completed"}))
}

// saveFailer fails task writes once armed, leaving other keys alone.
type saveFailer struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (s *saveFailer) Save(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail && strings.HasPrefix(key, "task"+store.KeySeparator) {
		return errors.New("store down")
	}
	return s.Store.Save(ctx, key, value)
}

func (s *saveFailer) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func TestFailedTransitionKeepsReminder(t *testing.T) {
	ctx := context.Background()
	st := &saveFailer{Store: store.NewMemory()}
	bus := queue.NewMemory()
	t.Cleanup(func() { _ = bus.Close() })
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	js := &fakeJobs{armed: map[string]time.Time{}}
	reminders := NewReminderScheduler(repository.NewReminders(st), js, DefaultReminderOffset, clock.Now)
	svc := NewTaskService(repository.NewTasks(st), bus, Topics{Lifecycle: lifecycleTopic, Sync: syncTopic},
		WithClock(clock.Now), WithReminders(reminders))

	due := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	task, err := svc.Create(ctx, models.TaskInput{Title: "pay rent", DueDate: &due}, "u1")
	require.NoError(t, err)
	require.Len(t, js.armed, 1)

	st.setFail(true)
	_, err = svc.Complete(ctx, task.ID, "u1")
	require.Error(t, err)
	deleted, err := svc.Delete(ctx, task.ID, "u1")
	require.Error(t, err)
	assert.False(t, deleted)

	rem, err := reminders.ForTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, rem)
	assert.Equal(t, models.ReminderPending, rem.Status)
	assert.Len(t, js.armed, 1)

	st.setFail(false)
	_, err = svc.Complete(ctx, task.ID, "u1")
	require.NoError(t, err)
	assert.Empty(t, js.armed)
}
