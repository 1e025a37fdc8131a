package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"mailroute/internal/record"
	"mailroute/pkg/circuitbreaker"
	"mailroute/pkg/retry"
)

func sampleRecord() *record.Record {
	return &record.Record{
		MessageID:  "<abc-123@example.com>",
		Subject:    "Invoice overdue",
		Sender:     "Billing Team <billing@Example.com>",
		Recipients: []string{"ap@corp.example"},
		BodyText:   "Please pay.",
		ReceivedAt: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		Attachments: []record.Attachment{
			{Filename: "invoice.pdf", ContentType: "application/pdf", Size: 1024},
		},
		Priority: record.PriorityHigh,
	}
}

func fastConfig() RouterConfig {
	return RouterConfig{
		Retry: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      2,
			MaxElapsedTime:  time.Second,
		},
		CircuitBreaker: circuitbreaker.Config{Enabled: false},
		ProbeTimeout:   time.Second,
	}
}

type sent struct {
	queue Queue
	msg   *Message
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []sent
	failTimes int
	failErr   error
	probeErr  map[string]error
	closed    bool
}

func (f *fakeSender) Send(_ context.Context, q Queue, msg *Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTimes != 0 {
		if f.failTimes > 0 {
			f.failTimes--
		}
		if f.failErr != nil {
			return "", f.failErr
		}
		return "", errors.New("broker unavailable")
	}
	f.sent = append(f.sent, sent{queue: q, msg: msg})
	return "id-" + q.Name, nil
}

func (f *fakeSender) Probe(_ context.Context, q Queue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr[q.Name]
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
