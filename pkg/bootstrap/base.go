package bootstrap

import (
	"context"
	"fmt"

	"mailroute/internal/broker"
	"mailroute/internal/config"
	"mailroute/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker connects the Kafka producer and consumer when Kafka intake is
// enabled and leaves both nil otherwise.
func (b *Base) InitBroker(serviceName string) error {
	kafkaCfg := b.Config.Intake.Kafka
	if !kafkaCfg.Enabled {
		b.Logger.Info("Kafka intake disabled, skipping broker setup")
		return nil
	}
	if len(kafkaCfg.Brokers) == 0 {
		return fmt.Errorf("kafka intake enabled without brokers")
	}

	producer := broker.NewKafkaProducer(kafkaCfg, b.Logger)
	consumer := broker.NewKafkaConsumer(kafkaCfg, b.Logger)
	if serviceName != "" {
		consumer.SetServiceName(serviceName)
	}

	b.Producer = producer
	b.Consumer = consumer
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
