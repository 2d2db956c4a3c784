// Package repository maps domain records onto the state store key layout.
// Every write is a single-key save; multi-key updates are not atomic.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"taskflow/internal/models"
	"taskflow/internal/store"
	"taskflow/pkg/logger"
)

const (
	prefixTask      = "task"
	prefixUserTasks = "user-tasks"
)

type taskIndex struct {
	TaskIDs []string `json:"task_ids"`
}

// Tasks stores task documents and the per-owner id index.
type Tasks struct {
	store store.Store
}

func NewTasks(s store.Store) *Tasks {
	return &Tasks{store: s}
}

// Get returns the task or nil when absent.
func (r *Tasks) Get(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	found, err := r.store.Get(ctx, store.Key(prefixTask, id), &t)
	if err != nil {
		logger.Error(ctx, "Repository get task failed", "error", err, "task_id", id)
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &t, nil
}

func (r *Tasks) Save(ctx context.Context, t *models.Task) error {
	if err := r.store.Save(ctx, store.Key(prefixTask, t.ID), t); err != nil {
		logger.Error(ctx, "Repository save task failed", "error", err, "task_id", t.ID)
		return err
	}
	return nil
}

// AddToOwner appends id to the owner's index if it is not there yet. The
// read-modify-write is not guarded; concurrent creates for one owner can
// lose an entry.
func (r *Tasks) AddToOwner(ctx context.Context, owner, id string) error {
	key := store.Key(prefixUserTasks, owner)
	var idx taskIndex
	if _, err := r.store.Get(ctx, key, &idx); err != nil {
		return fmt.Errorf("load task index for %s: %w", owner, err)
	}
	if slices.Contains(idx.TaskIDs, id) {
		return nil
	}
	idx.TaskIDs = append(idx.TaskIDs, id)
	if err := r.store.Save(ctx, key, idx); err != nil {
		return fmt.Errorf("save task index for %s: %w", owner, err)
	}
	return nil
}

// ListByOwner loads every indexed task of owner, including deleted ones.
// Ids whose document is missing are skipped.
func (r *Tasks) ListByOwner(ctx context.Context, owner string) ([]*models.Task, error) {
	var idx taskIndex
	found, err := r.store.Get(ctx, store.Key(prefixUserTasks, owner), &idx)
	if err != nil {
		return nil, fmt.Errorf("load task index for %s: %w", owner, err)
	}
	if !found || len(idx.TaskIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(idx.TaskIDs))
	for i, id := range idx.TaskIDs {
		keys[i] = store.Key(prefixTask, id)
	}
	raw, err := r.store.BulkGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("bulk load tasks for %s: %w", owner, err)
	}
	out := make([]*models.Task, 0, len(raw))
	for _, k := range keys {
		b, ok := raw[k]
		if !ok {
			continue
		}
		var t models.Task
		if err := json.Unmarshal(b, &t); err != nil {
			logger.Warn(ctx, "Skipping unreadable task", "key", k, "error", err)
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}
