// Package platform builds the state store, event bus and job scheduler
// named by configuration. Business code only sees the interfaces.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"taskflow/internal/config"
	"taskflow/internal/jobs"
	"taskflow/internal/queue"
	"taskflow/internal/store"
	"taskflow/pkg/logger"
)

// Platform owns the capability clients for one process.
type Platform struct {
	Store store.Store
	Bus   queue.Bus
	Jobs  jobs.Runner
	// Push receives HTTP push deliveries next to whatever Bus delivers.
	Push *queue.Push

	redis *redis.Client
}

// Build connects every configured backend. On error, whatever was opened
// is closed again.
func Build(ctx context.Context, cfg *config.Config) (_ *Platform, err error) {
	p := &Platform{Push: queue.NewPush()}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	switch cfg.StateStore {
	case config.BackendRedis:
		client, err := p.redisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.Store = store.NewRedis(client)
	case config.BackendPostgres:
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBPoolSize)
		if err != nil {
			return nil, err
		}
		p.Store = pg
	default:
		p.Store = store.NewMemory()
	}

	switch cfg.EventBus {
	case config.BackendKafka:
		k := queue.NewKafka(queue.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			Partitions:  cfg.KafkaPartitions,
			GroupPrefix: cfg.KafkaGroup,
		})
		k.EnsureTopics(ctx, cfg.TopicTaskEvents, cfg.TopicTaskUpdates, cfg.TopicReminders)
		p.Bus = k
	default:
		p.Bus = queue.NewMemory()
	}

	switch cfg.JobScheduler {
	case config.BackendRedis:
		client, err := p.redisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.Jobs = jobs.NewRedis(client, cfg.JobKeyPrefix, cfg.JobPollInterval)
	default:
		p.Jobs = jobs.NewMemory()
	}

	logger.Info(ctx, "Platform ready",
		"state_store", cfg.StateStore, "event_bus", cfg.EventBus, "job_scheduler", cfg.JobScheduler)
	return p, nil
}

// redisClient is shared by the Redis store and scheduler.
func (p *Platform) redisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if p.redis != nil {
		return p.redis, nil
	}
	client, err := store.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPoolSize)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	p.redis = client
	return client, nil
}

// Subscriber delivers to handlers from both the bus and push deliveries.
func (p *Platform) Subscriber() queue.Subscriber {
	return queue.Tee{p.Bus, p.Push}
}

// Close releases the bus, the store and the shared Redis client.
func (p *Platform) Close() error {
	var errs []error
	if p.Bus != nil {
		errs = append(errs, p.Bus.Close())
	}
	if p.Store != nil {
		if _, shared := p.Store.(*store.Redis); !shared {
			errs = append(errs, p.Store.Close())
		}
	}
	if p.redis != nil {
		errs = append(errs, p.redis.Close())
	}
	return errors.Join(errs...)
}
