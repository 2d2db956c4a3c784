package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"taskflow/pkg/logger"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Keyed payloads choose their partition key; messages sharing a key keep
// their relative order.
type Keyed interface {
	PartitionKey() string
}

// KafkaConfig is what the Kafka bus needs from the process configuration.
type KafkaConfig struct {
	Brokers     []string
	Partitions  int
	GroupPrefix string
}

// Kafka is a Bus backed by segmentio/kafka-go. One writer per topic, one
// consumer-group reader per subscription.
type Kafka struct {
	cfg KafkaConfig

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
	closed  bool
	loops   sync.WaitGroup
}

// NewKafka returns a bus for the given brokers. Nothing is dialled until the
// first publish or subscribe.
func NewKafka(cfg KafkaConfig) *Kafka {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	return &Kafka{cfg: cfg, writers: make(map[string]*kafka.Writer)}
}

// EnsureTopics creates the given topics with the configured partition count.
// Failures are logged and ignored; the topics may already exist or the
// broker may auto-create them.
func (k *Kafka) EnsureTopics(ctx context.Context, topics ...string) {
	if len(k.cfg.Brokers) == 0 || len(topics) == 0 {
		return
	}
	conn, err := kafka.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		logger.Debug(ctx, "Kafka dial for topic creation failed", "error", err)
		return
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		logger.Debug(ctx, "Kafka controller lookup failed", "error", err)
		return
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		logger.Debug(ctx, "Kafka controller dial failed", "error", err)
		return
	}
	defer ctrlConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     k.cfg.Partitions,
			ReplicationFactor: 1,
		})
	}
	if err := ctrlConn.CreateTopics(configs...); err != nil {
		logger.Debug(ctx, "Kafka create topics failed (topics may already exist)", "error", err)
		return
	}
	logger.Info(ctx, "Kafka topics ensured", "topics", topics, "partitions", k.cfg.Partitions)
}

func (k *Kafka) writer(ctx context.Context, topic string) (*kafka.Writer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	if w, ok := k.writers[topic]; ok {
		return w, nil
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(k.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 5 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	k.writers[topic] = w
	logger.Info(ctx, "Kafka producer initialized", "topic", topic, "brokers", k.cfg.Brokers)
	return w, nil
}

// Publish writes synchronously so the caller learns about broker failures.
func (k *Kafka) Publish(ctx context.Context, topic string, payload any) error {
	env, err := NewEnvelope(topic, payload)
	if err != nil {
		return err
	}
	w, err := k.writer(ctx, topic)
	if err != nil {
		return err
	}
	msg := kafka.Message{Value: env.Data}
	if kp, ok := payload.(Keyed); ok {
		msg.Key = []byte(kp.PartitionKey())
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer loop in the background and returns. The loop
// stops when ctx is cancelled or the bus is closed.
func (k *Kafka) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	groupID := group
	if k.cfg.GroupPrefix != "" {
		groupID = k.cfg.GroupPrefix + "-" + group
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.cfg.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	k.readers = append(k.readers, reader)
	k.loops.Add(1)
	k.mu.Unlock()

	go func() {
		defer k.loops.Done()
		consume(ctx, reader, topic, h)
	}()
	logger.Info(ctx, "Kafka consumer started", "topic", topic, "group", groupID)
	return nil
}

// consume commits every message, including ones the handler failed on, so a
// poison message never blocks its partition.
func consume(ctx context.Context, reader *kafka.Reader, topic string, h Handler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logger.Error(ctx, "Consumer fetch failed", "topic", topic, "error", err)
			continue
		}
		if err := h(ctx, Envelope{Topic: topic, Data: msg.Value}); err != nil {
			logger.Error(ctx, "Consumer handle failed", "topic", topic, "error", err,
				"partition", msg.Partition, "offset", msg.Offset)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "Consumer commit failed", "topic", topic, "error", err)
		}
	}
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	writers := k.writers
	readers := k.readers
	k.mu.Unlock()

	var g errgroup.Group
	for _, w := range writers {
		g.Go(w.Close)
	}
	for _, r := range readers {
		g.Go(r.Close)
	}
	err := g.Wait()
	k.loops.Wait()
	return err
}
