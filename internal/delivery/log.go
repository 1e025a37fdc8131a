package delivery

import (
	"context"

	"github.com/google/uuid"

	"mailroute/internal/logger"
)

// LogSender writes deliveries to the log instead of a broker. It backs the
// "log" backend used for local runs and smoke tests.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	if log == nil {
		log = logger.NopLogger()
	}
	return &LogSender{logger: log}
}

func (s *LogSender) Send(ctx context.Context, q Queue, msg *Message) (string, error) {
	id := uuid.NewString()
	s.logger.InfowCtx(ctx, "Delivered to log queue",
		"queue", q.Name,
		"delivery_id", id,
		"message_id", msg.ID,
		"attributes", msg.StringAttributes(),
		"bytes", len(msg.Body),
	)
	return id, nil
}

func (s *LogSender) Probe(context.Context, Queue) error { return nil }

func (s *LogSender) Close() error { return nil }
