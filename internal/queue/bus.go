// Package queue defines the topic-based event bus capability. Delivery is
// at-least-once; ordering is only kept within a topic for a single publisher.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("event bus is closed")

// Envelope is what subscribers receive: the published payload under data.
type Envelope struct {
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// Handler consumes one delivery. Returning an error does not stop the
// subscription; see each bus for what happens to the message.
type Handler func(ctx context.Context, env Envelope) error

// Publisher publishes JSON payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Subscriber binds a handler to a topic under a consumer group. Each group
// receives every message; members of a group share them.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, h Handler) error
}

// Bus is both sides of the capability.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// NewEnvelope marshals payload into an envelope for topic.
func NewEnvelope(topic string, payload any) (Envelope, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return Envelope{Topic: topic, Data: raw}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return Envelope{Topic: topic, Data: b}, nil
}

// Decode unmarshals the envelope data into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("empty %s envelope", e.Topic)
	}
	return json.Unmarshal(e.Data, dst)
}

// ParseEnvelope accepts either {"data": ...} or a bare payload, the way a
// push delivery may arrive from a sidecar.
func ParseEnvelope(topic string, body []byte) (Envelope, error) {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return Envelope{}, fmt.Errorf("parse %s envelope: %w", topic, err)
	}
	if len(probe.Data) > 0 && string(probe.Data) != "null" {
		return Envelope{Topic: topic, Data: probe.Data}, nil
	}
	return Envelope{Topic: topic, Data: append(json.RawMessage(nil), body...)}, nil
}
