package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType tags a lifecycle event and selects its payload shape.
type EventType string

const (
	EventCreated   EventType = "task.created"
	EventUpdated   EventType = "task.updated"
	EventCompleted EventType = "task.completed"
	EventDeleted   EventType = "task.deleted"
)

// EventPayload is implemented by every lifecycle payload variant.
type EventPayload interface {
	EventType() EventType
}

// CreatedPayload carries the full snapshot of a new task.
type CreatedPayload struct {
	Task *Task `json:"task"`
}

func (CreatedPayload) EventType() EventType { return EventCreated }

// FieldChange is the before/after rendering of one changed field.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// UpdatedPayload carries the field-level diff of an update.
type UpdatedPayload struct {
	TaskID  string                 `json:"task_id"`
	Changes map[string]FieldChange `json:"changes"`
}

func (UpdatedPayload) EventType() EventType { return EventUpdated }

// CompletedPayload is published when a task is completed.
type CompletedPayload struct {
	TaskID            string     `json:"task_id"`
	CompletedAt       time.Time  `json:"completed_at"`
	RecurrencePattern Recurrence `json:"recurrence_pattern,omitempty"`
}

func (CompletedPayload) EventType() EventType { return EventCompleted }

// DeletedPayload is published when a task is soft-deleted.
type DeletedPayload struct {
	TaskID    string    `json:"task_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (DeletedPayload) EventType() EventType { return EventDeleted }

// LifecycleEvent is the durable record of a task state transition.
type LifecycleEvent struct {
	EventID   string
	TaskID    string
	UserID    string
	Timestamp time.Time
	Payload   EventPayload
}

// NewLifecycleEvent stamps a payload with a fresh id and the given time.
func NewLifecycleEvent(taskID, userID string, at time.Time, payload EventPayload) LifecycleEvent {
	return LifecycleEvent{
		EventID:   uuid.New().String(),
		TaskID:    taskID,
		UserID:    userID,
		Timestamp: at,
		Payload:   payload,
	}
}

// Type returns the tag of the payload.
func (e LifecycleEvent) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

func (e LifecycleEvent) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	ts := e.Timestamp
	return json.Marshal(RawLifecycleEvent{
		EventID:   e.EventID,
		EventType: e.Type(),
		TaskID:    e.TaskID,
		Payload:   payload,
		UserID:    e.UserID,
		Timestamp: &ts,
	})
}

func (e *LifecycleEvent) UnmarshalJSON(b []byte) error {
	var raw RawLifecycleEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	typed, err := raw.Decode()
	if err != nil {
		return err
	}
	*e = typed
	return nil
}

// RawLifecycleEvent is the wire envelope with the payload left undecoded.
// Consumers that only store the payload (audit) work on this form.
type RawLifecycleEvent struct {
	EventID   string          `json:"event_id"`
	EventType EventType       `json:"event_type"`
	TaskID    string          `json:"task_id"`
	Payload   json.RawMessage `json:"payload"`
	UserID    string          `json:"user_id"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// Decode resolves the payload variant from the event type.
func (r RawLifecycleEvent) Decode() (LifecycleEvent, error) {
	var payload EventPayload
	var err error
	switch r.EventType {
	case EventCreated:
		var p CreatedPayload
		err = decodePayload(r.Payload, &p)
		payload = p
	case EventUpdated:
		var p UpdatedPayload
		err = decodePayload(r.Payload, &p)
		payload = p
	case EventCompleted:
		var p CompletedPayload
		err = decodePayload(r.Payload, &p)
		payload = p
	case EventDeleted:
		var p DeletedPayload
		err = decodePayload(r.Payload, &p)
		payload = p
	default:
		return LifecycleEvent{}, validationf("unknown event type %q", r.EventType)
	}
	if err != nil {
		return LifecycleEvent{}, fmt.Errorf("%w: decode %s payload: %v", ErrValidation, r.EventType, err)
	}
	e := LifecycleEvent{
		EventID: r.EventID,
		TaskID:  r.TaskID,
		UserID:  r.UserID,
		Payload: payload,
	}
	if r.Timestamp != nil {
		e.Timestamp = *r.Timestamp
	}
	return e, nil
}

func decodePayload(b json.RawMessage, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// SyncEvent describes the current task state for live clients.
type SyncEvent struct {
	EventType EventType `json:"event_type"`
	TaskID    string    `json:"task_id"`
	Task      *Task     `json:"task"`
}

// ReminderFiredEvent is published on the reminders topic when a job fires.
type ReminderFiredEvent struct {
	ReminderID    string         `json:"reminder_id"`
	TaskID        string         `json:"task_id"`
	UserID        string         `json:"user_id,omitempty"`
	ScheduledTime time.Time      `json:"scheduled_time"`
	Status        ReminderStatus `json:"status"`
}

// PartitionKey keeps every event of one task on the same partition.
func (e LifecycleEvent) PartitionKey() string { return e.TaskID }

func (e SyncEvent) PartitionKey() string { return e.TaskID }

func (e ReminderFiredEvent) PartitionKey() string { return e.TaskID }
