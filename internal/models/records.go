package models

import (
	"encoding/json"
	"time"
)

// ReminderStatus is the state of a scheduled reminder.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a scheduled trigger that fires ahead of a task's due date.
type Reminder struct {
	ReminderID    string         `json:"reminder_id"`
	TaskID        string         `json:"task_id"`
	UserID        string         `json:"user_id,omitempty"`
	ScheduledTime time.Time      `json:"scheduled_time"`
	Status        ReminderStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ReminderJob is the payload armed with the job scheduler.
type ReminderJob struct {
	ReminderID    string    `json:"reminder_id"`
	TaskID        string    `json:"task_id"`
	UserID        string    `json:"user_id,omitempty"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

// AuditLogEntry is the append-only record of one lifecycle event.
type AuditLogEntry struct {
	LogID          string          `json:"log_id"`
	EventID        string          `json:"event_id"`
	EventType      EventType       `json:"event_type"`
	TaskID         string          `json:"task_id"`
	Payload        json.RawMessage `json:"payload"`
	UserID         string          `json:"user_id"`
	EventTimestamp time.Time       `json:"event_timestamp"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// Channel is how a notification reaches the user.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// DeliveryStatus of a notification.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Notification is a message delivered to a user when a reminder fires.
type Notification struct {
	NotificationID string         `json:"notification_id"`
	ReminderID     string         `json:"reminder_id"`
	TaskID         string         `json:"task_id,omitempty"`
	UserID         string         `json:"user_id"`
	Channel        Channel        `json:"channel"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	Message        string         `json:"message"`
	SentAt         *time.Time     `json:"sent_at"`
	CreatedAt      time.Time      `json:"created_at"`
}
