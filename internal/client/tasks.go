// Package client calls the task service on behalf of the background
// consumers, either over HTTP or in-process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"taskflow/internal/models"
	"taskflow/internal/service"
	"taskflow/pkg/logger"
)

// ErrRemote marks a failed call to the task service.
var ErrRemote = errors.New("task service call failed")

// UserHeader carries the owner of a task created on someone's behalf.
const UserHeader = "X-User-ID"

// Tasks is what the consumers need from the task service.
type Tasks interface {
	// GetTask returns nil when the task does not exist.
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, in models.TaskInput, owner string) (*models.Task, error)
}

// HTTP talks to the task service API. Calls are single attempts; the
// timeout bounds each one.
type HTTP struct {
	base  string
	http  *http.Client
	fetch singleflight.Group
}

// NewHTTP returns a client for base, e.g. http://backend:8080/api.
func NewHTTP(base string, timeout time.Duration) *HTTP {
	return &HTTP{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *HTTP) GetTask(ctx context.Context, id string) (*models.Task, error) {
	v, err, _ := c.fetch.Do(id, func() (any, error) {
		return c.getTask(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	t, _ := v.(*models.Task)
	return t.Clone(), nil
}

func (c *HTTP) getTask(ctx context.Context, id string) (*models.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get task %s: %v", ErrRemote, id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	var t models.Task
	if err := decode(resp, &t); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (c *HTTP) CreateTask(ctx context.Context, in models.TaskInput, owner string) (*models.Task, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/tasks", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, owner)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: create task: %v", ErrRemote, err)
	}
	defer resp.Body.Close()
	var t models.Task
	if err := decode(resp, &t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	logger.Debug(ctx, "Remote task created", "task_id", t.ID, "owner", owner)
	return &t, nil
}

func decode(resp *http.Response, dst any) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrRemote, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrRemote, resp.StatusCode, bytes.TrimSpace(b))
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", ErrRemote, err)
	}
	return nil
}

// Local calls a TaskService in the same process.
type Local struct {
	svc *service.TaskService
}

func NewLocal(svc *service.TaskService) *Local {
	return &Local{svc: svc}
}

func (l *Local) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return l.svc.Get(ctx, id)
}

// CreateTask treats a reminder failure as success, the way the HTTP API
// answers 201 once the task exists.
func (l *Local) CreateTask(ctx context.Context, in models.TaskInput, owner string) (*models.Task, error) {
	t, err := l.svc.Create(ctx, in, owner)
	if errors.Is(err, service.ErrReminder) && t != nil {
		logger.Warn(ctx, "Task created without reminder", "task_id", t.ID, "error", err)
		return t, nil
	}
	return t, err
}
