package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

func newTestKafkaBus(t *testing.T, maxRetries int) *kafkaBus {
	t.Helper()
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)
	b := NewKafkaBus(KafkaConfig{MaxRetryAttempts: maxRetries}, log).(*kafkaBus)
	return b
}

func TestDeliverWithRetryEscalatesToDeadAfterExhaustion(t *testing.T) {
	b := newTestKafkaBus(t, 2)
	calls := 0
	handler := func(ctx context.Context, env codec.Envelope) Result {
		calls++
		return NackRetry
	}

	result := b.deliverWithRetry(context.Background(), "topic", nil, codec.Envelope{Type: codec.KindCreateInfluencer}, handler)
	require.Equal(t, NackDead, result)
	require.GreaterOrEqual(t, calls, 2)
}

func TestDeliverWithRetrySucceedsOnAck(t *testing.T) {
	b := newTestKafkaBus(t, 3)
	handler := func(ctx context.Context, env codec.Envelope) Result {
		return Ack
	}

	result := b.deliverWithRetry(context.Background(), "topic", nil, codec.Envelope{}, handler)
	require.Equal(t, Ack, result)
}

func TestResultString(t *testing.T) {
	require.Equal(t, "ack", Ack.String())
	require.Equal(t, "nack_retry", NackRetry.String())
	require.Equal(t, "nack_dead", NackDead.String())
}
