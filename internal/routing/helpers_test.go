package routing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailroute/internal/logger"
	"mailroute/internal/record"
	"mailroute/pkg/cel"
)

func newTestRuleSet(t *testing.T) *RuleSet {
	t.Helper()
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	return NewRuleSet(eval, NewContextBuilder(time.UTC, []string{"corp.com"}), logger.NopLogger())
}

func mustAdd(t *testing.T, rs *RuleSet, rules ...Rule) {
	t.Helper()
	for _, r := range rules {
		require.NoError(t, rs.Add(r))
	}
}

func sampleRecord() record.Record {
	return record.Record{
		MessageID:  "<m1@example.com>",
		Subject:    "URGENT: need help",
		Sender:     "alice@example.com",
		Recipients: []string{"support@corp.com"},
		BodyText:   "Our service is down",
		ReceivedAt: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), // Monday
		Priority:   record.PriorityUrgent,
	}
}

// fakeDeliverer records calls and fails for queues listed in failQueues.
type fakeDeliverer struct {
	mu         sync.Mutex
	calls      []string
	failQueues map[string]bool
	panicOn    string
	probe      map[string]error
}

func (f *fakeDeliverer) Deliver(_ context.Context, rec *record.Record, queue string, _ map[string]interface{}) (string, error) {
	if f.panicOn != "" && rec.MessageID == f.panicOn {
		panic("transport exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, queue)
	if f.failQueues[queue] {
		return "", fmt.Errorf("queue %s unavailable", queue)
	}
	return fmt.Sprintf("msg-%d", len(f.calls)), nil
}

func (f *fakeDeliverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDeliverer) ProbeQueues(context.Context) (map[string]error, error) {
	return f.probe, nil
}

func (f *fakeDeliverer) QueueNames() []string {
	names := make([]string, 0, len(f.probe))
	for n := range f.probe {
		names = append(names, n)
	}
	return names
}
