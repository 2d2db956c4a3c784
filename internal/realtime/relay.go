// Package realtime fans sync events out to connected clients. Delivery is
// best-effort to whoever is connected when an event arrives.
package realtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"taskflow/internal/queue"
	"taskflow/pkg/logger"
)

// Conn is one live client connection.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Relay holds the connection set. Connect, Disconnect and Broadcast may be
// called concurrently; sends run outside the lock.
type Relay struct {
	mu        sync.RWMutex
	conns     map[Conn]struct{}
	timeout   time.Duration
	fanout    int
	closeOnce sync.Once
}

// NewRelay returns a relay that gives each send timeout and runs at most
// fanout sends at a time.
func NewRelay(timeout time.Duration, fanout int) *Relay {
	if fanout <= 0 {
		fanout = 64
	}
	return &Relay{conns: make(map[Conn]struct{}), timeout: timeout, fanout: fanout}
}

func (r *Relay) Connect(ctx context.Context, c Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	n := len(r.conns)
	r.mu.Unlock()
	logger.Info(ctx, "Realtime client connected", "clients", n)
}

// Disconnect removes c. Removing an unknown connection is a no-op.
func (r *Relay) Disconnect(ctx context.Context, c Conn) {
	r.mu.Lock()
	_, ok := r.conns[c]
	delete(r.conns, c)
	n := len(r.conns)
	r.mu.Unlock()
	if ok {
		logger.Info(ctx, "Realtime client disconnected", "clients", n)
	}
}

func (r *Relay) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast sends msg to every connection and prunes the ones that failed.
// It returns how many sends succeeded.
func (r *Relay) Broadcast(ctx context.Context, msg []byte) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}

	failed := make([]bool, len(targets))
	var g errgroup.Group
	g.SetLimit(r.fanout)
	for i, c := range targets {
		g.Go(func() error {
			sendCtx := ctx
			if r.timeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			if err := c.Send(sendCtx, msg); err != nil {
				logger.Debug(ctx, "Realtime send failed", "error", err)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var dead []Conn
	for i, c := range targets {
		if failed[i] {
			dead = append(dead, c)
		}
	}
	if len(dead) > 0 {
		r.mu.Lock()
		for _, c := range dead {
			delete(r.conns, c)
		}
		r.mu.Unlock()
		for _, c := range dead {
			_ = c.Close()
		}
		logger.Info(ctx, "Realtime clients pruned", "pruned", len(dead))
	}
	return len(targets) - len(dead)
}

// Handle is the queue.Handler for the sync topic: each event is broadcast
// as received.
func (r *Relay) Handle(ctx context.Context, env queue.Envelope) error {
	r.Broadcast(ctx, env.Data)
	return nil
}

// Close closes and forgets every connection.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		conns := r.conns
		r.conns = make(map[Conn]struct{})
		r.mu.Unlock()
		for c := range conns {
			_ = c.Close()
		}
	})
}
