package models

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeleted
}

// Priority of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities high-first. Unknown values rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Recurrence is the cadence of a repeating task.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Active reports whether r asks for a next instance. Empty and "none" do not.
func (r Recurrence) Active() bool {
	return r != "" && r != RecurrenceNone
}

// Task is a user-owned to-do item.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        *string    `json:"description"`
	Status             Status     `json:"status"`
	Priority           Priority   `json:"priority"`
	DueDate            *time.Time `json:"due_date"`
	Tags               []string   `json:"tags"`
	RecurrencePattern  Recurrence `json:"recurrence_pattern,omitempty"`
	RecurrenceParentID *string    `json:"recurrence_parent_id"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Description != nil {
		d := *t.Description
		c.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.RecurrenceParentID != nil {
		p := *t.RecurrenceParentID
		c.RecurrenceParentID = &p
	}
	c.Tags = append([]string(nil), t.Tags...)
	return &c
}

// TaskInput is the body accepted by create.
type TaskInput struct {
	Title              string     `json:"title" validate:"required,min=1,max=255,nonblank"`
	Description        *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	Priority           Priority   `json:"priority,omitempty" validate:"omitempty,oneof=high medium low"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	Tags               []string   `json:"tags,omitempty" validate:"max=20,dive,min=1,max=50,nonblank"`
	RecurrencePattern  Recurrence `json:"recurrence_pattern,omitempty" validate:"omitempty,oneof=daily weekly monthly none"`
	RecurrenceParentID *string    `json:"recurrence_parent_id,omitempty"`
}

// Validate checks the field constraints of a new task.
func (in TaskInput) Validate() error {
	return validateStruct(in)
}

// TaskPatch is a partial update. Only non-nil (or Set) fields take part in
// the diff; Description and DueDate can be cleared with an explicit null.
type TaskPatch struct {
	Title             *string             `json:"title,omitempty" validate:"omitempty,min=1,max=255,nonblank"`
	Description       Optional[string]    `json:"description"`
	Priority          *Priority           `json:"priority,omitempty" validate:"omitempty,oneof=high medium low"`
	DueDate           Optional[time.Time] `json:"due_date"`
	Tags              *[]string           `json:"tags,omitempty" validate:"omitempty,max=20,dive,min=1,max=50,nonblank"`
	RecurrencePattern *Recurrence         `json:"recurrence_pattern,omitempty" validate:"omitempty,oneof=daily weekly monthly none"`
}

// Validate checks the constraints of the fields present in the patch.
func (p TaskPatch) Validate() error {
	if err := validateStruct(p); err != nil {
		return err
	}
	if p.Description.Value != nil && utf8.RuneCountInString(*p.Description.Value) > 2000 {
		return validationf("description must be at most 2000 characters")
	}
	return nil
}

// Optional distinguishes an absent JSON field from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a set Optional holding no value.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// TaskFilter narrows and orders a listing.
type TaskFilter struct {
	Search    string
	Priority  string
	Tag       string
	Status    string
	SortBy    string
	// SortOrder is "asc" or "desc"; anything else sorts descending.
	SortOrder string
}
