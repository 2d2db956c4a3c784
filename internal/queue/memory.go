package queue

import (
	"context"
	"sync"

	"taskflow/pkg/logger"
)

const historySize = 1024

// Memory is an in-process bus. Each consumer group has its own unbounded
// queue drained by one goroutine, so delivery within a topic keeps publish
// order and a handler may publish without blocking its own group.
type Memory struct {
	mu      sync.RWMutex
	groups  map[string]map[string]*memoryGroup
	history map[string][]Envelope
	closed  bool
	pending sync.WaitGroup
}

type memoryGroup struct {
	topic, name string
	mu          sync.Mutex
	cond        *sync.Cond
	queue       []Envelope
	handlers    []Handler
	next        int
	closed      bool
}

// NewMemory returns an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{
		groups:  make(map[string]map[string]*memoryGroup),
		history: make(map[string][]Envelope),
	}
}

func (m *Memory) Publish(ctx context.Context, topic string, payload any) error {
	env, err := NewEnvelope(topic, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	h := append(m.history[topic], env)
	if len(h) > historySize {
		h = h[len(h)-historySize:]
	}
	m.history[topic] = h
	groups := make([]*memoryGroup, 0, len(m.groups[topic]))
	for _, g := range m.groups[topic] {
		groups = append(groups, g)
	}
	m.pending.Add(len(groups))
	m.mu.Unlock()

	for _, g := range groups {
		g.enqueue(env)
	}
	logger.Debug(ctx, "Event published", "topic", topic, "groups", len(groups))
	return nil
}

// Subscribe registers h under group. Subscribing twice to the same group
// makes the handlers share that group's messages round-robin.
func (m *Memory) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	byName := m.groups[topic]
	if byName == nil {
		byName = make(map[string]*memoryGroup)
		m.groups[topic] = byName
	}
	g, ok := byName[group]
	if !ok {
		g = &memoryGroup{topic: topic, name: group}
		g.cond = sync.NewCond(&g.mu)
		byName[group] = g
		go g.run(logger.WithContext(context.Background(), logger.FromContext(ctx)), &m.pending)
	}
	g.mu.Lock()
	g.handlers = append(g.handlers, h)
	g.mu.Unlock()
	logger.Info(ctx, "Subscribed", "topic", topic, "group", group)
	return nil
}

// History returns up to the last historySize envelopes published on topic.
func (m *Memory) History(topic string) []Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Envelope(nil), m.history[topic]...)
}

// Flush blocks until every delivery enqueued so far has been handled,
// including deliveries published by handlers while flushing.
func (m *Memory) Flush() {
	m.pending.Wait()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var groups []*memoryGroup
	for _, byName := range m.groups {
		for _, g := range byName {
			groups = append(groups, g)
		}
	}
	m.mu.Unlock()

	for _, g := range groups {
		g.close()
	}
	return nil
}

func (g *memoryGroup) enqueue(env Envelope) {
	g.mu.Lock()
	g.queue = append(g.queue, env)
	g.mu.Unlock()
	g.cond.Signal()
}

func (g *memoryGroup) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *memoryGroup) run(ctx context.Context, pending *sync.WaitGroup) {
	for {
		g.mu.Lock()
		for len(g.queue) == 0 && !g.closed {
			g.cond.Wait()
		}
		if len(g.queue) == 0 && g.closed {
			g.mu.Unlock()
			return
		}
		env := g.queue[0]
		g.queue = g.queue[1:]
		h := g.handlers[g.next%len(g.handlers)]
		g.next++
		g.mu.Unlock()

		g.deliver(ctx, h, env)
		pending.Done()
	}
}

func (g *memoryGroup) deliver(ctx context.Context, h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Handler panic", "topic", g.topic, "group", g.name, "panic", r)
		}
	}()
	if err := h(ctx, env); err != nil {
		logger.Error(ctx, "Handler failed", "topic", g.topic, "group", g.name, "error", err)
	}
}
