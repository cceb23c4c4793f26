package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// AMQPConfig configures the secondary AMQP adapter. Topics map to fanout
// exchanges; each Subscribe call declares a durable queue named
// topic+"."+group and binds it to the topic's exchange, so multiple groups subscribing to the same topic get independent queues
// while instances sharing a group share one (shared-subscription semantics).
type AMQPConfig struct {
	URL        string
	DeadLetter DeadLetterSink
}

type amqpBus struct {
	cfg  AMQPConfig
	log  logger.Logger
	conn *amqp.Connection

	mu      sync.Mutex
	channel *amqp.Channel

	breaker *gobreaker.CircuitBreaker
	wg      sync.WaitGroup
}

// NewAMQPBus builds a Bus backed by rabbitmq/amqp091-go.
func NewAMQPBus(cfg AMQPConfig, log logger.Logger) (Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bus: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: amqp channel: %w", err)
	}
	return &amqpBus{
		cfg:     cfg,
		log:     log,
		conn:    conn,
		channel: ch,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "amqp-publish"}),
	}, nil
}

func (b *amqpBus) declareExchange(topic string) error {
	return b.channel.ExchangeDeclare(topic, "fanout", true, false, false, false, nil)
}

func (b *amqpBus) Publish(ctx context.Context, topic string, env codec.Envelope) error {
	wire, err := codec.Marshal(env)
	if err != nil {
		return &FatalSchemaError{Topic: topic, Err: err}
	}

	_, err = b.breaker.Execute(func() (interface{}, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if err := b.declareExchange(topic); err != nil {
			return nil, err
		}
		return nil, b.channel.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        wire,
		})
	})
	if err != nil {
		return &TransientSendError{Topic: topic, Err: err}
	}
	return nil
}

func (b *amqpBus) Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: amqp subscribe channel: %w", err)
	}
	if err := ch.ExchangeDeclare(topic, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("bus: amqp exchange declare: %w", err)
	}
	queueName := topic + "." + group
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: amqp queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", topic, false, nil); err != nil {
		return nil, fmt.Errorf("bus: amqp queue bind: %w", err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("bus: amqp qos: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: amqp consume: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		defer close(done)
		for {
			select {
			case <-subCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				env, decodeErr := codec.Unmarshal(d.Body)
				if decodeErr != nil {
					if b.cfg.DeadLetter != nil {
						b.cfg.DeadLetter.Record(subCtx, topic, d.Body, decodeErr)
					}
					_ = d.Ack(false)
					continue
				}
				env.IngestedAt = codec.NewUnixMilliTime(time.Now().UTC())
				switch handler(subCtx, env) {
				case Ack:
					_ = d.Ack(false)
				case NackRetry:
					_ = d.Nack(false, true)
				case NackDead:
					if b.cfg.DeadLetter != nil {
						b.cfg.DeadLetter.Record(subCtx, topic, d.Body, fmt.Errorf("handler nacked dead for %s", env.Type))
					}
					_ = d.Nack(false, false)
				}
			}
		}
	}()

	return &amqpSubscription{cancel: cancel, done: done, channel: ch}, nil
}

func (b *amqpBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			b.log.Warn("amqp channel close error", zap.Error(err))
		}
	}
	return b.conn.Close()
}

type amqpSubscription struct {
	cancel  context.CancelFunc
	done    chan struct{}
	channel *amqp.Channel
}

func (s *amqpSubscription) Close(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.channel.Close()
}
