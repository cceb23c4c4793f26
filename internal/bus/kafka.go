package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// KafkaConfig configures the Kafka adapter.
type KafkaConfig struct {
	Brokers []string
	// DeadLetter, when set, receives envelopes that failed to decode or
	// exhausted retry.
	DeadLetter DeadLetterSink
	// MaxRetryAttempts bounds in-process NackRetry handling before an
	// envelope is escalated to dead-letter. Kafka's log model has no native
	// per-message requeue, so retry is handled inline with backoff rather
	// than by redelivery.
	MaxRetryAttempts int
}

// DeadLetterSink records envelopes the bus could not deliver or that a
// handler gave up on.
type DeadLetterSink interface {
	Record(ctx context.Context, topic string, raw []byte, cause error)
}

type kafkaBus struct {
	cfg KafkaConfig
	log logger.Logger

	mu      sync.Mutex
	writers map[string]*kafkago.Writer

	breaker *gobreaker.CircuitBreaker

	wg sync.WaitGroup
}

// NewKafkaBus builds a Bus backed by segmentio/kafka-go.
func NewKafkaBus(cfg KafkaConfig, log logger.Logger) Bus {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	b := &kafkaBus{
		cfg:     cfg,
		log:     log,
		writers: make(map[string]*kafkago.Writer),
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-publish",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return b
}

func (b *kafkaBus) writerFor(topic string) *kafkago.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(b.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	b.writers[topic] = w
	return w
}

func (b *kafkaBus) Publish(ctx context.Context, topic string, env codec.Envelope) error {
	wire, err := codec.Marshal(env)
	if err != nil {
		return &FatalSchemaError{Topic: topic, Err: err}
	}

	_, err = b.breaker.Execute(func() (interface{}, error) {
		return nil, b.writerFor(topic).WriteMessages(ctx, kafkago.Message{
			Key:   []byte(env.CorrelationID),
			Value: wire,
		})
	})
	if err != nil {
		return &TransientSendError{Topic: topic, Err: err}
	}
	return nil
}

func (b *kafkaBus) Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		Topic:       topic,
		GroupID:     group,
		StartOffset: kafkago.FirstOffset,
	})

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		defer close(done)
		for {
			msg, err := reader.FetchMessage(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				b.log.Warn("kafka fetch error", zap.String("topic", topic), zap.Error(err))
				continue
			}

			env, decodeErr := codec.Unmarshal(msg.Value)
			if decodeErr != nil {
				if b.cfg.DeadLetter != nil {
					b.cfg.DeadLetter.Record(subCtx, topic, msg.Value, decodeErr)
				}
				_ = reader.CommitMessages(subCtx, msg)
				continue
			}
			env.IngestedAt = codec.NewUnixMilliTime(time.Now().UTC())

			result := b.deliverWithRetry(subCtx, topic, msg.Value, env, handler)
			if result == NackDead && b.cfg.DeadLetter != nil {
				b.cfg.DeadLetter.Record(subCtx, topic, msg.Value, fmt.Errorf("handler nacked dead for %s", env.Type))
			}
			if err := reader.CommitMessages(subCtx, msg); err != nil {
				b.log.Warn("kafka commit error", zap.String("topic", topic), zap.Error(err))
			}
		}
	}()

	return &kafkaSubscription{cancel: cancel, done: done, reader: reader}, nil
}

// deliverWithRetry calls handler, retrying NackRetry results with bounded
// backoff before escalating to NackDead.
func (b *kafkaBus) deliverWithRetry(ctx context.Context, topic string, raw []byte, env codec.Envelope, handler Handler) Result {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(b.cfg.MaxRetryAttempts))
	var final Result
	attempt := 0
	_ = backoff.Retry(func() error {
		attempt++
		final = handler(ctx, env)
		if final == NackRetry && attempt <= b.cfg.MaxRetryAttempts {
			return fmt.Errorf("handler requested retry for %s (attempt %d)", env.Type, attempt)
		}
		return nil
	}, bo)
	if final == NackRetry {
		// retries exhausted
		return NackDead
	}
	return final
}

func (b *kafkaBus) Close() error {
	b.mu.Lock()
	for _, w := range b.writers {
		_ = w.Close()
	}
	b.mu.Unlock()
	return nil
}

type kafkaSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	reader *kafkago.Reader
}

func (s *kafkaSubscription) Close(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.reader.Close()
}
