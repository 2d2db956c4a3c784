package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskInputValidate(t *testing.T) {
	long := strings.Repeat("x", 2001)
	tags21 := make([]string, 21)
	for i := range tags21 {
		tags21[i] = "t"
	}

	tests := []struct {
		name    string
		in      TaskInput
		wantErr bool
	}{
		{"ok", TaskInput{Title: "Buy milk", Tags: []string{"home"}}, false},
		{"empty title", TaskInput{Title: ""}, true},
		{"blank title", TaskInput{Title: "   "}, true},
		{"title too long", TaskInput{Title: strings.Repeat("a", 256)}, true},
		{"description too long", TaskInput{Title: "a", Description: &long}, true},
		{"bad priority", TaskInput{Title: "a", Priority: "urgent"}, true},
		{"bad recurrence", TaskInput{Title: "a", RecurrencePattern: "yearly"}, true},
		{"none recurrence", TaskInput{Title: "a", RecurrencePattern: RecurrenceNone}, false},
		{"too many tags", TaskInput{Title: "a", Tags: tags21}, true},
		{"blank tag", TaskInput{Title: "a", Tags: []string{" "}}, true},
		{"long tag", TaskInput{Title: "a", Tags: []string{strings.Repeat("t", 51)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTaskPatchDistinguishesNullFromAbsent(t *testing.T) {
	var p TaskPatch
	require.NoError(t, json.Unmarshal([]byte(`{"due_date":null,"title":"x"}`), &p))
	assert.True(t, p.DueDate.Set)
	assert.Nil(t, p.DueDate.Value)
	assert.False(t, p.Description.Set)
	require.NotNil(t, p.Title)

	require.NoError(t, json.Unmarshal([]byte(`{"due_date":"2026-03-01T12:00:00Z"}`), &p))
	require.NotNil(t, p.DueDate.Value)
	assert.Equal(t, 12, p.DueDate.Value.Hour())
}

func TestTaskPatchValidate(t *testing.T) {
	blank := "  "
	assert.Error(t, TaskPatch{Title: &blank}.Validate())

	tags := []string{"ok", ""}
	assert.Error(t, TaskPatch{Tags: &tags}.Validate())

	assert.NoError(t, TaskPatch{Description: Null[string]()}.Validate())

	accented := strings.Repeat("é", 1500)
	assert.NoError(t, TaskInput{Title: "t", Description: &accented}.Validate())
	assert.NoError(t, TaskPatch{Description: Some(accented)}.Validate())

	tooLong := strings.Repeat("é", 2001)
	assert.ErrorIs(t, TaskPatch{Description: Some(tooLong)}.Validate(), ErrValidation)
}

func TestLifecycleEventRoundTripSelectsVariant(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := NewLifecycleEvent("t-1", "u-1", at, CompletedPayload{
		TaskID:            "t-1",
		CompletedAt:       at,
		RecurrencePattern: RecurrenceDaily,
	})

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"event_type":"task.completed"`)

	var got LifecycleEvent
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, ev.EventID, got.EventID)
	p, ok := got.Payload.(CompletedPayload)
	require.True(t, ok)
	assert.Equal(t, RecurrenceDaily, p.RecurrencePattern)
	assert.True(t, at.Equal(got.Timestamp))
}

func TestRawLifecycleEventUnknownType(t *testing.T) {
	_, err := RawLifecycleEvent{EventType: "task.archived"}.Decode()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Equal(t, 1, Priority("other").Rank())
}

func TestCloneDoesNotAlias(t *testing.T) {
	d := "desc"
	orig := &Task{ID: "1", Description: &d, Tags: []string{"a"}}
	c := orig.Clone()
	*c.Description = "changed"
	c.Tags[0] = "b"
	assert.Equal(t, "desc", *orig.Description)
	assert.Equal(t, "a", orig.Tags[0])
}
