package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Service roles a process can run as.
const (
	RoleBackend      = "backend"
	RoleAudit        = "audit"
	RoleRecurring    = "recurring"
	RoleNotification = "notification"
	RoleAll          = "all"
)

// Capability backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendKafka    = "kafka"
)

// Config holds application configuration from environment.
type Config struct {
	Role     string
	HTTPPort string
	LogLevel string

	StateStore   string
	EventBus     string
	JobScheduler string

	DatabaseURL     string
	DBPoolSize      int
	RedisURL        string
	RedisPoolSize   int
	KafkaBrokers    []string
	KafkaPartitions int
	KafkaGroup      string

	TopicTaskEvents  string
	TopicTaskUpdates string
	TopicReminders   string

	ReminderOffset  time.Duration
	JobPollInterval time.Duration
	JobKeyPrefix    string

	TaskServiceURL   string
	RemoteTimeout    time.Duration
	RelaySendTimeout time.Duration
	RelayFanout      int

	JWTSecret string
}

// Load reads .env (when present) and the process environment. Variables
// already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Role:     strings.ToLower(getEnv("SERVICE_ROLE", RoleAll)),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StateStore:   strings.ToLower(getEnv("STATE_STORE", BackendMemory)),
		EventBus:     strings.ToLower(getEnv("EVENT_BUS", BackendMemory)),
		JobScheduler: strings.ToLower(getEnv("JOB_SCHEDULER", BackendMemory)),

		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBPoolSize:      getIntEnv("DB_POOL_SIZE", 20),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPoolSize:   getIntEnv("REDIS_POOL_SIZE", 50),
		KafkaBrokers:    getSliceEnv("KAFKA_BROKERS", "localhost:9092"),
		KafkaPartitions: getIntEnv("KAFKA_PARTITIONS", 3),
		KafkaGroup:      getEnv("KAFKA_GROUP_PREFIX", "taskflow"),

		TopicTaskEvents:  getEnv("TOPIC_TASK_EVENTS", "task-events"),
		TopicTaskUpdates: getEnv("TOPIC_TASK_UPDATES", "task-updates"),
		TopicReminders:   getEnv("TOPIC_REMINDERS", "reminders"),

		ReminderOffset:  time.Duration(getIntEnv("REMINDER_OFFSET_MIN", 30)) * time.Minute,
		JobPollInterval: time.Duration(getIntEnv("JOB_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		JobKeyPrefix:    getEnv("JOB_KEY_PREFIX", "taskflow:jobs"),

		TaskServiceURL:   strings.TrimRight(getEnv("TASK_SERVICE_URL", "http://localhost:8080/api"), "/"),
		RemoteTimeout:    time.Duration(getIntEnv("REMOTE_TIMEOUT_SEC", 10)) * time.Second,
		RelaySendTimeout: time.Duration(getIntEnv("RELAY_SEND_TIMEOUT_MS", 2000)) * time.Millisecond,
		RelayFanout:      getIntEnv("RELAY_FANOUT", 64),

		JWTSecret: os.Getenv("JWT_SECRET"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown roles and backends and missing connection strings.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleBackend, RoleAudit, RoleRecurring, RoleNotification, RoleAll:
	default:
		return fmt.Errorf("config: unknown SERVICE_ROLE %q", c.Role)
	}
	switch c.StateStore {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: STATE_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown STATE_STORE %q", c.StateStore)
	}
	switch c.EventBus {
	case BackendMemory, BackendKafka:
	default:
		return fmt.Errorf("config: unknown EVENT_BUS %q", c.EventBus)
	}
	switch c.JobScheduler {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("config: unknown JOB_SCHEDULER %q", c.JobScheduler)
	}
	if c.ReminderOffset < 0 {
		return fmt.Errorf("config: REMINDER_OFFSET_MIN must not be negative")
	}
	return nil
}

// Runs reports whether the configured role includes the given one.
func (c *Config) Runs(role string) bool {
	return c.Role == RoleAll || c.Role == role
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getSliceEnv(key, defaultVal string) []string {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{defaultVal}
}
