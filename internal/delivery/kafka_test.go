package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaSender_Send(t *testing.T) {
	w := &fakeKafkaWriter{}
	sender := &KafkaSender{writer: w}
	q := Queue{Name: "billing", Backend: BackendKafka, Target: "billing-topic", MaxMessageSize: DefaultMaxMessageSize}

	msg, err := BuildMessage(sampleRecord(), q, nil, time.Now())
	require.NoError(t, err)

	id, err := sender.Send(context.Background(), q, msg)
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	km := w.msgs[0]
	assert.Equal(t, "billing-topic", km.Topic)
	assert.Equal(t, []byte(msg.ID), km.Key)
	assert.Equal(t, msg.Body, km.Value)
	assert.Equal(t, id, headerValue(km.Headers, "delivery_id"))
	assert.Equal(t, "billing", headerValue(km.Headers, "queue"))
	assert.Equal(t, "example.com", headerValue(km.Headers, "sender_domain"))

	require.NoError(t, sender.Close())
	assert.True(t, w.closed)
}

func TestKafkaSender_SendError(t *testing.T) {
	w := &fakeKafkaWriter{err: errors.New("leader not available")}
	sender := &KafkaSender{writer: w}
	q := Queue{Name: "billing", Target: "billing-topic"}

	_, err := sender.Send(context.Background(), q, &Message{ID: "x", Body: []byte("{}")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestKafkaSender_Probe(t *testing.T) {
	var probed string
	sender := &KafkaSender{writer: &fakeKafkaWriter{}, probe: func(_ context.Context, topic string) error {
		probed = topic
		return nil
	}}

	require.NoError(t, sender.Probe(context.Background(), Queue{Target: "billing-topic"}))
	assert.Equal(t, "billing-topic", probed)

	assert.Error(t, dialProbe(nil)(context.Background(), "t"))
}
