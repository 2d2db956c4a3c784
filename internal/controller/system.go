package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"taskflow/internal/jobs"
	"taskflow/internal/models"
	"taskflow/internal/queue"
	"taskflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Jobs receives job-fire callbacks from an external scheduler.
type Jobs struct {
	fire jobs.FireFunc
}

func NewJobs(fire jobs.FireFunc) *Jobs {
	return &Jobs{fire: fire}
}

// Trigger accepts {"job_id", "payload"} either bare or under "data".
func (h *Jobs) Trigger(c *gin.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	env, err := queue.ParseEnvelope("jobs", body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	var call struct {
		JobID      string          `json:"job_id"`
		ReminderID string          `json:"reminder_id"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := env.Decode(&call); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	job := jobs.Job{ID: call.JobID, Payload: call.Payload}
	if job.ID == "" {
		job.ID = call.ReminderID
	}
	if len(job.Payload) == 0 || string(job.Payload) == "null" {
		job.Payload = env.Data
	}

	if err := h.fire(ctx, job); err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error(ctx, "Job trigger failed", "job_id", job.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "SUCCESS"})
}

// Events receives push deliveries for subscribed topics.
type Events struct {
	push *queue.Push
}

func NewEvents(push *queue.Push) *Events {
	return &Events{push: push}
}

// Deliver always answers 200; the status field tells the sender whether to
// drop or retry.
func (h *Events) Deliver(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": queue.ResultRetry})
		return
	}
	result := h.push.Deliver(c.Request.Context(), c.Param("topic"), body)
	c.JSON(http.StatusOK, gin.H{"status": result})
}

// Pinger is anything readiness depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns 200 if the process is alive. Used by load balancers.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Ready returns 200 if every dependency answers a ping.
func Ready(deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				logger.Warn(ctx, "Readiness check failed", "dependency", name, "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + " unavailable"})
				return
			}
		}
		c.String(http.StatusOK, "OK")
	}
}
