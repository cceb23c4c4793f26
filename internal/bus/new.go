package bus

import (
	"fmt"

	"github.com/alpespartners/saga-orchestrator/internal/config"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// New builds the Bus selected by cfg.BusKind ("kafka" or "amqp").
func New(cfg *config.Config, dlq DeadLetterSink, log logger.Logger) (Bus, error) {
	switch cfg.BusKind {
	case "", "kafka":
		return NewKafkaBus(KafkaConfig{
			Brokers:    cfg.BusBrokers,
			DeadLetter: dlq,
		}, log), nil
	case "amqp":
		if len(cfg.BusBrokers) == 0 {
			return nil, fmt.Errorf("bus: amqp requires BUS_BROKERS to hold exactly one URL")
		}
		return NewAMQPBus(AMQPConfig{
			URL:        cfg.BusBrokers[0],
			DeadLetter: dlq,
		}, log)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBusKind, cfg.BusKind)
	}
}
