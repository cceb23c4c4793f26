package bus

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// deadLetterAlerts counts every envelope routed to dead-letter, per topic,
// satisfying §4.1's "an alert counter is incremented" requirement.
var deadLetterAlerts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "saga_bus_dead_letter_total",
		Help: "Envelopes routed to the dead-letter stream, by topic.",
	},
	[]string{"topic"},
)

func init() {
	prometheus.MustRegister(deadLetterAlerts)
}

// RedisDeadLetterSink records failed envelopes to a Redis stream so an
// operator can inspect or replay them later.
type RedisDeadLetterSink struct {
	client *goredis.Client
	log    logger.Logger
	stream string
}

// NewRedisDeadLetterSink builds a DeadLetterSink backed by Redis streams,
// grounded on the teacher's EmitToDLQ helper.
func NewRedisDeadLetterSink(client *goredis.Client, log logger.Logger) *RedisDeadLetterSink {
	return &RedisDeadLetterSink{client: client, log: log, stream: "saga_bus_dlq"}
}

func (s *RedisDeadLetterSink) Record(ctx context.Context, topic string, raw []byte, cause error) {
	deadLetterAlerts.WithLabelValues(topic).Inc()

	_, err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"topic": topic,
			"raw":   string(raw),
			"cause": fmt.Sprintf("%v", cause),
		},
	}).Result()
	if err != nil {
		s.log.Error("failed to record dead letter", zap.Error(err), zap.String("topic", topic))
	}
}
