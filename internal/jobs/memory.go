package jobs

import (
	"context"
	"sync"
	"time"

	"taskflow/pkg/logger"
)

type armed struct {
	timer *time.Timer
}

// Memory keeps one timer per armed job. Jobs that come due before Run is
// called are held and fired as soon as it starts.
type Memory struct {
	mu     sync.Mutex
	timers map[string]*armed
	held   []Job
	fire   FireFunc
	ctx    context.Context
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{timers: make(map[string]*armed), now: time.Now}
}

func (m *Memory) Arm(ctx context.Context, jobID string, fireAt time.Time, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	job := Job{ID: jobID, Payload: raw}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.timers[jobID]; ok {
		prev.timer.Stop()
	}
	a := &armed{}
	a.timer = time.AfterFunc(fireAt.Sub(m.now()), func() { m.due(job, a) })
	m.timers[jobID] = a
	logger.Debug(ctx, "Job armed", "job_id", jobID, "fire_at", fireAt)
	return nil
}

func (m *Memory) Disarm(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.timers[jobID]; ok {
		a.timer.Stop()
		delete(m.timers, jobID)
		logger.Debug(ctx, "Job disarmed", "job_id", jobID)
	}
	return nil
}

// Armed reports how many jobs are waiting to fire.
func (m *Memory) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Memory) due(job Job, a *armed) {
	m.mu.Lock()
	if cur, ok := m.timers[job.ID]; !ok || cur != a {
		m.mu.Unlock()
		return
	}
	delete(m.timers, job.ID)
	fire, ctx := m.fire, m.ctx
	if fire == nil {
		m.held = append(m.held, job)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	invoke(ctx, fire, job)
}

// Run installs fire, flushes held jobs, and blocks until ctx is done. Armed
// timers are stopped on return.
func (m *Memory) Run(ctx context.Context, fire FireFunc) error {
	m.mu.Lock()
	m.fire, m.ctx = fire, ctx
	held := m.held
	m.held = nil
	m.mu.Unlock()

	for _, job := range held {
		invoke(ctx, fire, job)
	}
	<-ctx.Done()

	m.mu.Lock()
	for id, a := range m.timers {
		a.timer.Stop()
		delete(m.timers, id)
	}
	m.fire = nil
	m.mu.Unlock()
	return nil
}

func invoke(ctx context.Context, fire FireFunc, job Job) {
	if err := fire(ctx, job); err != nil {
		logger.Error(ctx, "Job callback failed", "job_id", job.ID, "error", err)
	}
}
