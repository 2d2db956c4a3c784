package queue

import (
	"context"
	"errors"
	"sync"

	"taskflow/pkg/logger"
)

// Result is the acknowledgement a push delivery gets back.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultDrop    Result = "DROP"
	ResultRetry   Result = "RETRY"
)

// ErrDrop marks a handler error as permanent: redelivering will not help.
var ErrDrop = errors.New("drop message")

// Drop wraps err so push deliveries answer DROP instead of RETRY.
func Drop(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrDrop, err)
}

// Push routes HTTP push deliveries to handlers by topic. It implements
// Subscriber; the group is ignored since the sender owns fan-out.
type Push struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewPush() *Push {
	return &Push{handlers: make(map[string][]Handler)}
}

func (p *Push) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	p.mu.Lock()
	p.handlers[topic] = append(p.handlers[topic], h)
	p.mu.Unlock()
	logger.Debug(ctx, "Push route registered", "topic", topic, "group", group)
	return nil
}

// Topics returns the topics that have at least one handler.
func (p *Push) Topics() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		out = append(out, t)
	}
	return out
}

// Deliver parses body and runs every handler of topic. Any retryable
// failure makes the whole delivery RETRY; handlers are expected to be
// idempotent.
func (p *Push) Deliver(ctx context.Context, topic string, body []byte) Result {
	p.mu.RLock()
	hs := p.handlers[topic]
	p.mu.RUnlock()
	if len(hs) == 0 {
		logger.Warn(ctx, "Push delivery for unrouted topic", "topic", topic)
		return ResultDrop
	}
	env, err := ParseEnvelope(topic, body)
	if err != nil {
		logger.Warn(ctx, "Push delivery unparseable", "topic", topic, "error", err)
		return ResultDrop
	}

	result := ResultSuccess
	for _, h := range hs {
		err := h(ctx, env)
		switch {
		case err == nil:
		case errors.Is(err, ErrDrop):
			logger.Warn(ctx, "Push delivery dropped", "topic", topic, "error", err)
			if result == ResultSuccess {
				result = ResultDrop
			}
		default:
			logger.Error(ctx, "Push delivery failed", "topic", topic, "error", err)
			result = ResultRetry
		}
	}
	return result
}

// Tee subscribes a handler on several subscribers at once.
type Tee []Subscriber

func (t Tee) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.Subscribe(ctx, topic, group, h); err != nil {
			return err
		}
	}
	return nil
}
