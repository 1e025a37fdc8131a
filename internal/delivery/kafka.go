package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"mailroute/internal/constants"
	"mailroute/pkg/tracing"
)

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes to the topic named by the queue target. Record ids
// are used as keys so one record always lands on the same partition.
type KafkaSender struct {
	writer kafkaWriter
	probe  func(ctx context.Context, topic string) error
}

func NewKafkaSender(cfg KafkaConfig) *KafkaSender {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
	}
	return &KafkaSender{
		writer: w,
		probe:  dialProbe(cfg.Brokers),
	}
}

func dialProbe(brokers []string) func(ctx context.Context, topic string) error {
	return func(ctx context.Context, topic string) error {
		if len(brokers) == 0 {
			return fmt.Errorf("no kafka brokers configured")
		}
		dialer := &kafka.Dialer{Timeout: constants.KafkaDialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return err
		}
		defer conn.Close()

		partitions, err := conn.ReadPartitions(topic)
		if err != nil {
			return err
		}
		if len(partitions) == 0 {
			return fmt.Errorf("topic %s has no partitions", topic)
		}
		return nil
	}
}

func (s *KafkaSender) Send(ctx context.Context, q Queue, msg *Message) (string, error) {
	deliveryID := uuid.NewString()

	headers := make([]kafka.Header, 0, len(msg.Attributes)+2)
	headers = append(headers,
		kafka.Header{Key: constants.HeaderDeliveryID, Value: []byte(deliveryID)},
		kafka.Header{Key: constants.HeaderQueue, Value: []byte(q.Name)},
	)
	for k, v := range msg.StringAttributes() {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = tracing.InjectTraceContext(ctx, headers)

	err := s.writer.WriteMessages(ctx, kafka.Message{
		Topic:   q.Target,
		Key:     []byte(msg.ID),
		Value:   msg.Body,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to write kafka message: %w", err)
	}
	return deliveryID, nil
}

func (s *KafkaSender) Probe(ctx context.Context, q Queue) error {
	return s.probe(ctx, q.Target)
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
