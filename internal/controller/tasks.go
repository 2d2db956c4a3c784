package controller

import (
	"context"
	"errors"
	"net/http"

	"taskflow/internal/middleware"
	"taskflow/internal/models"
	"taskflow/internal/service"
	"taskflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Tasks exposes the task lifecycle over HTTP.
type Tasks struct {
	svc *service.TaskService
}

func NewTasks(svc *service.TaskService) *Tasks {
	return &Tasks{svc: svc}
}

// Create answers 201 with the new task. A reminder failure after the task
// was stored is logged, not reported to the caller.
func (h *Tasks) Create(c *gin.Context) {
	ctx := c.Request.Context()
	var in models.TaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	task, err := h.svc.Create(ctx, in, middleware.User(c))
	if !h.ok(c, task, err) {
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *Tasks) List(c *gin.Context) {
	ctx := c.Request.Context()
	filter := models.TaskFilter{
		Search:    c.Query("search"),
		Priority:  c.Query("priority"),
		Tag:       c.Query("tag"),
		Status:    c.Query("status"),
		SortBy:    c.DefaultQuery("sort_by", "created_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}
	tasks, err := h.svc.ListFiltered(ctx, middleware.User(c), filter)
	if err != nil {
		h.fail(c, "List tasks failed", err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *Tasks) Get(c *gin.Context) {
	task, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Get task failed", err)
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Tasks) Update(c *gin.Context) {
	var patch models.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	task, err := h.svc.Update(c.Request.Context(), c.Param("id"), patch, middleware.User(c))
	if !h.ok(c, task, err) {
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Tasks) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	deleted, err := h.svc.Delete(ctx, c.Param("id"), middleware.User(c))
	if errors.Is(err, service.ErrReminder) && deleted {
		logger.Warn(ctx, "Task deleted but reminder not cancelled", "error", err)
		err = nil
	}
	if err != nil {
		h.fail(c, "Delete task failed", err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Tasks) Complete(c *gin.Context) {
	task, err := h.svc.Complete(c.Request.Context(), c.Param("id"), middleware.User(c))
	if !h.ok(c, task, err) {
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Tasks) ReplaceTags(c *gin.Context) {
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	task, err := h.svc.ReplaceTags(c.Request.Context(), c.Param("id"), body.Tags, middleware.User(c))
	if !h.ok(c, task, err) {
		return
	}
	c.JSON(http.StatusOK, task)
}

// ok writes the error response for a single-task result and reports
// whether the caller should write the task.
func (h *Tasks) ok(c *gin.Context, task *models.Task, err error) bool {
	if errors.Is(err, service.ErrReminder) && task != nil {
		logger.Warn(c.Request.Context(), "Task saved but reminder not updated", "task_id", task.ID, "error", err)
		return true
	}
	if err != nil {
		h.fail(c, "Task operation failed", err)
		return false
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return false
	}
	return true
}

func (h *Tasks) fail(c *gin.Context, msg string, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case ctx.Err() != nil || isContextErr(err):
	default:
		logger.Error(ctx, msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
