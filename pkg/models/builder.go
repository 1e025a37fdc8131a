package models

import "time"

type RoutedMessageBuilder struct {
	msg *RoutedMessage
}

func NewRoutedMessageBuilder() *RoutedMessageBuilder {
	return &RoutedMessageBuilder{
		msg: &RoutedMessage{MessageType: MessageTypeEmailRouting},
	}
}

func (b *RoutedMessageBuilder) WithRecord(record interface{}, receivedAt time.Time) *RoutedMessageBuilder {
	b.msg.Record = record
	b.msg.Timestamp = receivedAt
	return b
}

func (b *RoutedMessageBuilder) WithQueue(queue string) *RoutedMessageBuilder {
	b.msg.Queue = queue
	return b
}

func (b *RoutedMessageBuilder) WithTraceID(traceID string) *RoutedMessageBuilder {
	b.msg.TraceID = traceID
	return b
}

func (b *RoutedMessageBuilder) WithAttributes(attrs map[string]interface{}) *RoutedMessageBuilder {
	if len(attrs) > 0 {
		b.msg.AdditionalAttributes = attrs
	}
	return b
}

func (b *RoutedMessageBuilder) WithRoutedAt(t time.Time) *RoutedMessageBuilder {
	b.msg.RoutedAt = t
	return b
}

func (b *RoutedMessageBuilder) Build() *RoutedMessage {
	if b.msg.RoutedAt.IsZero() {
		b.msg.RoutedAt = time.Now().UTC()
	}
	if b.msg.Timestamp.IsZero() {
		b.msg.Timestamp = b.msg.RoutedAt
	}
	return b.msg
}
