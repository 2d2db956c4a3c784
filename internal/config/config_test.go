package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_ROLE", "")
	t.Setenv("STATE_STORE", "")
	t.Setenv("REMINDER_OFFSET_MIN", "")
	t.Setenv("JOB_KEY_PREFIX", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, RoleAll, cfg.Role)
	assert.Equal(t, BackendMemory, cfg.StateStore)
	assert.Equal(t, 30*time.Minute, cfg.ReminderOffset)
	assert.Equal(t, "task-events", cfg.TopicTaskEvents)
	assert.Equal(t, "taskflow:jobs", cfg.JobKeyPrefix)
	assert.True(t, cfg.Runs(RoleAudit))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVICE_ROLE", "Audit")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("EVENT_BUS", "kafka")
	t.Setenv("TASK_SERVICE_URL", "http://backend:8080/api/")
	t.Setenv("KAFKA_GROUP_PREFIX", "shared")
	t.Setenv("JOB_KEY_PREFIX", "reminder-jobs")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, RoleAudit, cfg.Role)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "http://backend:8080/api", cfg.TaskServiceURL)
	assert.Equal(t, "shared", cfg.KafkaGroup)
	assert.Equal(t, "reminder-jobs", cfg.JobKeyPrefix)
	assert.True(t, cfg.Runs(RoleAudit))
	assert.False(t, cfg.Runs(RoleBackend))
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STATE_STORE", "etcd")
	_, err := Load()
	require.Error(t, err)
}

func TestPostgresRequiresURL(t *testing.T) {
	t.Setenv("STATE_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.Error(t, err)
}
