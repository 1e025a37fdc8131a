package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

// AMQPSender publishes to RabbitMQ. A target of "exchange/routing-key"
// publishes to that exchange; a bare name publishes to the queue of that name
// through the default exchange.
type AMQPSender struct {
	mu          sync.Mutex
	openChannel func() (amqpChannel, error)
	ch          amqpChannel
	closeConn   func() error
}

func NewAMQPSender(cfg AMQPConfig) (*AMQPSender, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	return &AMQPSender{
		openChannel: func() (amqpChannel, error) { return conn.Channel() },
		closeConn:   conn.Close,
	}, nil
}

func parseAMQPTarget(target string) (exchange, key string) {
	if i := strings.Index(target, "/"); i >= 0 {
		return target[:i], target[i+1:]
	}
	return "", target
}

func (s *AMQPSender) channel() (amqpChannel, error) {
	if s.ch != nil {
		return s.ch, nil
	}
	ch, err := s.openChannel()
	if err != nil {
		return nil, err
	}
	s.ch = ch
	return ch, nil
}

func (s *AMQPSender) Send(_ context.Context, q Queue, msg *Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return "", fmt.Errorf("failed to open amqp channel: %w", err)
	}

	headers := amqp.Table{}
	for k, v := range msg.StringAttributes() {
		headers[k] = v
	}

	deliveryID := uuid.NewString()
	exchange, key := parseAMQPTarget(q.Target)
	err = ch.Publish(exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     deliveryID,
		CorrelationId: msg.ID,
		Timestamp:     time.Now(),
		Headers:       headers,
		Body:          msg.Body,
	})
	if err != nil {
		// The channel is unusable after most publish errors; reopen next time.
		_ = ch.Close()
		s.ch = nil
		return "", fmt.Errorf("failed to publish to %s: %w", q.Target, err)
	}
	return deliveryID, nil
}

// Probe declares the target passively on a fresh channel, since a failed
// passive declare closes the channel it ran on.
func (s *AMQPSender) Probe(_ context.Context, q Queue) error {
	ch, err := s.openChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	exchange, key := parseAMQPTarget(q.Target)
	if exchange != "" {
		return ch.ExchangeDeclarePassive(exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	}
	_, err = ch.QueueDeclarePassive(key, true, false, false, false, nil)
	return err
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.closeConn != nil {
		return s.closeConn()
	}
	return nil
}
