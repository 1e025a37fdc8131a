package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mailroute/internal/logger"
)

// Config holds connection settings for every backend. Only backends used by
// at least one queue are connected.
type Config struct {
	Router RouterConfig `mapstructure:",squash"`
	AWS    AWSConfig    `mapstructure:"aws"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Redis  RedisConfig  `mapstructure:"redis"`
	AMQP   AMQPConfig   `mapstructure:"amqp"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

func DefaultConfig() Config {
	return Config{Router: DefaultRouterConfig()}
}

// BackendsOf returns the distinct backends named by defs. Definitions with an
// empty backend count as sqs.
func BackendsOf(defs []QueueDefinition) []Backend {
	seen := make(map[Backend]bool)
	var out []Backend
	for _, d := range defs {
		b := Backend(strings.ToLower(strings.TrimSpace(d.Backend)))
		if b == "" {
			b = BackendSQS
		}
		if !b.Valid() || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

func NewSender(ctx context.Context, backend Backend, cfg Config, log logger.Logger) (Sender, error) {
	switch backend {
	case BackendSQS, BackendSNS:
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		if backend == BackendSQS {
			return NewSQSSender(NewSQSClient(awsCfg, cfg.AWS.Endpoint)), nil
		}
		return NewSNSSender(NewSNSClient(awsCfg, cfg.AWS.Endpoint)), nil
	case BackendKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka backend requires brokers")
		}
		return NewKafkaSender(cfg.Kafka), nil
	case BackendRedis:
		return NewRedisSender(cfg.Redis), nil
	case BackendAMQP:
		return NewAMQPSender(cfg.AMQP)
	case BackendPubSub:
		return NewPubSubSender(ctx, cfg.PubSub)
	case BackendLog:
		return NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("unknown delivery backend: %s", backend)
	}
}

// NewRouterFromConfig connects the backends the queues need and registers
// the queues. Queues whose backend failed to connect are skipped and
// reported with the invalid definitions.
func NewRouterFromConfig(ctx context.Context, cfg Config, queues []QueueDefinition, log logger.Logger) (*Router, []error) {
	if log == nil {
		log = logger.NopLogger()
	}

	var errs []error
	senders := make(map[Backend]Sender)
	for _, backend := range BackendsOf(queues) {
		sender, err := NewSender(ctx, backend, cfg, log)
		if err != nil {
			log.Errorw("Failed to initialize delivery backend", "backend", backend, "error", err)
			errs = append(errs, fmt.Errorf("backend %s: %w", backend, err))
			continue
		}
		senders[backend] = sender
	}

	router := NewRouter(senders, cfg.Router, log)
	_, loadErrs := router.LoadQueues(queues)
	errs = append(errs, loadErrs...)
	if len(errs) > 0 {
		log.Warnw("Some queues were not registered", "error", errors.Join(errs...))
	}
	return router, errs
}
