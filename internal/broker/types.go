package broker

import (
	"context"
	"time"
)

// Message is a transport-neutral view of one broker record.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

type Producer interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one message. Errors that report themselves fatal are
// not retried and go straight to the dead-letter topic.
type HandlerFunc func(ctx context.Context, msg Message) error

const (
	HeaderDLQReason      = "dlq_reason"
	HeaderDLQSourceTopic = "dlq_source_topic"
	HeaderDLQTimestamp   = "dlq_timestamp"
)
