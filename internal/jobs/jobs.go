// Package jobs is the one-shot job scheduler capability: arm a job for a
// point in time, disarm it, and have a callback invoked when it fires.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job is what the fire callback receives.
type Job struct {
	ID      string          `json:"job_id"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the job payload into dst.
func (j Job) Decode(dst any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", j.ID)
	}
	return json.Unmarshal(j.Payload, dst)
}

// FireFunc handles a fired job. Errors are logged by the scheduler; a fired
// job is never re-armed.
type FireFunc func(ctx context.Context, job Job) error

// Scheduler arms and disarms jobs. Arming an id that is already armed
// replaces it; disarming an unknown id is not an error.
type Scheduler interface {
	Arm(ctx context.Context, jobID string, fireAt time.Time, payload any) error
	Disarm(ctx context.Context, jobID string) error
}

// Runner delivers fired jobs to fire until ctx is done.
type Runner interface {
	Scheduler
	Run(ctx context.Context, fire FireFunc) error
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	return b, nil
}
