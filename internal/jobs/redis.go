package jobs

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"taskflow/pkg/logger"
)

const pollBatch = 100

// Redis keeps armed jobs in a sorted set scored by fire time (unix millis)
// with payloads in a hash. Any number of processes may poll; ZREM decides
// which one fires a job.
type Redis struct {
	client   *redis.Client
	dueKey   string
	dataKey  string
	interval time.Duration
	now      func() time.Time
}

// NewRedis returns a scheduler under the given key prefix that polls every
// interval.
func NewRedis(client *redis.Client, prefix string, interval time.Duration) *Redis {
	if prefix == "" {
		prefix = "jobs"
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Redis{
		client:   client,
		dueKey:   prefix + ":due",
		dataKey:  prefix + ":payload",
		interval: interval,
		now:      time.Now,
	}
}

func (r *Redis) Arm(ctx context.Context, jobID string, fireAt time.Time, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.dataKey, jobID, []byte(raw))
		p.ZAdd(ctx, r.dueKey, redis.Z{Score: float64(fireAt.UnixMilli()), Member: jobID})
		return nil
	})
	if err != nil {
		return err
	}
	logger.Debug(ctx, "Job armed", "job_id", jobID, "fire_at", fireAt)
	return nil
}

func (r *Redis) Disarm(ctx context.Context, jobID string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, r.dueKey, jobID)
		p.HDel(ctx, r.dataKey, jobID)
		return nil
	})
	return err
}

func (r *Redis) Run(ctx context.Context, fire FireFunc) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	logger.Info(ctx, "Job poller started", "interval", r.interval.String())
	for {
		if err := r.poll(ctx, fire); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "Job poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// claimScript removes a due job and returns its payload in one step, so a
// job is either still armed or handed to exactly one poller with its
// payload. It returns nil when another poller won.
var claimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return false
end
local payload = redis.call('HGET', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if not payload then
  return ''
end
return payload
`)

func (r *Redis) poll(ctx context.Context, fire FireFunc) error {
	ids, err := r.client.ZRangeByScore(ctx, r.dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(r.now().UnixMilli(), 10),
		Count: pollBatch,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		raw, err := claimScript.Run(ctx, r.client, []string{r.dueKey, r.dataKey}, id).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		var payload []byte
		if raw != "" {
			payload = []byte(raw)
		} else {
			logger.Warn(ctx, "Job fired without payload", "job_id", id)
		}
		invoke(ctx, fire, Job{ID: id, Payload: payload})
	}
	return nil
}
