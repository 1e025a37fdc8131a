package routing

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/internal/logger"
	"mailroute/internal/record"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/health"
)

func newTestDispatcher(t *testing.T, d Deliverer, workers int) *Dispatcher {
	t.Helper()
	rs := newTestRuleSet(t)
	mustAdd(t, rs,
		Rule{Name: "urgent", Condition: `priority == 'urgent' or contains(subject,'URGENT')`, Action: "high_priority", Priority: 100, Enabled: true},
		Rule{Name: "support", Condition: `contains(subject,'help')`, Action: "support", Priority: 80, Enabled: true},
	)
	return NewDispatcher(rs, d, DispatcherConfig{DefaultQueue: "default", Workers: workers}, logger.NopLogger())
}

func TestDispatcher_Process(t *testing.T) {
	d := &fakeDeliverer{}
	disp := newTestDispatcher(t, d, 1)

	rec := sampleRecord()
	result := disp.Process(context.Background(), &rec, false, map[string]interface{}{"source": "test"})

	assert.True(t, result.Success)
	assert.True(t, result.Delivered)
	assert.Equal(t, "high_priority", result.Queue)
	assert.Equal(t, []string{"urgent", "support"}, result.MatchedRules)
	assert.Equal(t, "msg-1", result.DeliveryID)
	assert.Equal(t, rec.MessageID, result.RecordID)
	assert.Empty(t, result.Error)
	assert.Equal(t, []string{"high_priority"}, d.calls)

	snap := disp.Statistics()
	assert.Equal(t, int64(1), snap.TotalProcessed)
	assert.Equal(t, map[string]int64{"urgent": 1, "support": 1}, snap.RuleMatches)
	assert.Equal(t, map[string]int64{"high_priority": 1}, snap.QueueUsage)
	assert.Equal(t, 2, snap.RulesCount)
}

func TestDispatcher_DefaultQueue(t *testing.T) {
	rs := newTestRuleSet(t)
	disp := NewDispatcher(rs, &fakeDeliverer{}, DispatcherConfig{}, nil)

	rec := record.Record{Subject: "hello"}
	result := disp.Process(context.Background(), &rec, true, nil)

	assert.Equal(t, "default", result.Queue)
	assert.Equal(t, []string{}, result.MatchedRules)
	assert.True(t, result.Success)
}

func TestDispatcher_DryRunNeverDelivers(t *testing.T) {
	d := &fakeDeliverer{failQueues: map[string]bool{"high_priority": true}}
	disp := newTestDispatcher(t, d, 1)

	rec := sampleRecord()
	result := disp.Process(context.Background(), &rec, true, nil)

	assert.True(t, result.Success)
	assert.True(t, result.DryRun)
	assert.False(t, result.Delivered)
	assert.Empty(t, result.Error)
	assert.Zero(t, d.callCount())

	snap := disp.Statistics()
	assert.Equal(t, int64(1), snap.RuleMatches["urgent"])
	assert.Empty(t, snap.QueueUsage)
}

func TestDispatcher_DeliveryFailure(t *testing.T) {
	d := &fakeDeliverer{failQueues: map[string]bool{"high_priority": true}}
	disp := newTestDispatcher(t, d, 1)

	rec := sampleRecord()
	result := disp.Process(context.Background(), &rec, false, nil)

	assert.False(t, result.Success)
	assert.Equal(t, apperrors.ErrDelivery.Code, result.ErrorCode)
	assert.Contains(t, result.Error, "queue high_priority unavailable")
	assert.True(t, apperrors.IsDelivery(result.Err()))

	snap := disp.Statistics()
	assert.Equal(t, int64(1), snap.Failed)
	assert.Empty(t, snap.QueueUsage)
}

func TestDispatcher_NoDeliverer(t *testing.T) {
	disp := newTestDispatcher(t, nil, 1)
	rec := sampleRecord()

	result := disp.Process(context.Background(), &rec, false, nil)
	assert.False(t, result.Success)
	assert.Equal(t, "high_priority", result.Queue)
}

func TestDispatcher_NilRecord(t *testing.T) {
	disp := newTestDispatcher(t, &fakeDeliverer{}, 1)
	result := disp.Process(context.Background(), nil, false, nil)

	assert.False(t, result.Success)
	assert.Equal(t, "default", result.Queue)
	assert.Equal(t, apperrors.ErrRecordProcessing.Code, result.ErrorCode)
}

func TestDispatcher_SubjectTruncated(t *testing.T) {
	disp := newTestDispatcher(t, &fakeDeliverer{}, 1)
	rec := record.Record{Subject: strings.Repeat("é", 150)}

	result := disp.Process(context.Background(), &rec, true, nil)
	assert.Equal(t, strings.Repeat("é", 100), result.Subject)
}

func batch(n int) []record.Record {
	records := make([]record.Record, n)
	for i := range records {
		records[i] = sampleRecord()
		records[i].MessageID = fmt.Sprintf("<m%d>", i)
		if i%2 == 1 {
			records[i].Subject = "quarterly report"
			records[i].Priority = record.PriorityNormal
		}
	}
	return records
}

func TestDispatcher_ProcessBatch(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			d := &fakeDeliverer{panicOn: "<m3>"}
			disp := newTestDispatcher(t, d, workers)
			records := batch(10)

			results := disp.ProcessBatch(context.Background(), records, false)

			require.Len(t, results, 10)
			failed := 0
			for i, r := range results {
				assert.Equal(t, records[i].MessageID, r.RecordID)
				if !r.Success {
					failed++
					assert.Equal(t, "<m3>", r.RecordID)
					assert.Equal(t, apperrors.ErrRecordProcessing.Code, r.ErrorCode)
				}
			}
			assert.Equal(t, 1, failed)
			assert.Equal(t, "high_priority", results[0].Queue)
			assert.Equal(t, "default", results[1].Queue)

			snap := disp.Statistics()
			assert.Equal(t, int64(10), snap.TotalProcessed)
			assert.Equal(t, snap.TotalProcessed, snap.Successful+snap.Failed)
			assert.Equal(t, int64(5), snap.QueueUsage["high_priority"])
			assert.Equal(t, int64(4), snap.QueueUsage["default"])
		})
	}
}

func TestDispatcher_ProcessBatchCancelled(t *testing.T) {
	d := &fakeDeliverer{}
	disp := newTestDispatcher(t, d, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := disp.ProcessBatch(ctx, batch(3), false)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.ErrorIs(t, r.Err(), context.Canceled)
	}
	assert.Zero(t, d.callCount())
	assert.Zero(t, disp.Statistics().TotalProcessed)
}

func TestDispatcher_TestCondition(t *testing.T) {
	disp := newTestDispatcher(t, nil, 1)
	records := batch(4)
	records[2].Headers = map[string]string{"X-Team": "ops"}

	report, err := disp.TestCondition(context.Background(), `headers['X-Team'] == 'ops'`, records)
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalRecords)
	assert.Equal(t, 1, report.Matches)
	assert.Equal(t, 3, report.Errors)
	assert.Equal(t, []string{"<m2>"}, report.MatchingIDs)
	assert.Equal(t, 2, disp.Rules().Len())

	_, err = disp.TestCondition(context.Background(), `headers[`, records)
	assert.True(t, apperrors.IsRuleSyntax(err))
}

func TestDispatcher_ResetStatistics(t *testing.T) {
	disp := newTestDispatcher(t, &fakeDeliverer{}, 1)
	disp.ProcessBatch(context.Background(), batch(3), true)
	disp.ResetStatistics()

	snap := disp.Statistics()
	assert.Zero(t, snap.TotalProcessed)
	assert.Zero(t, snap.SuccessRate)
}

func TestDispatcher_HealthCheck(t *testing.T) {
	d := &fakeDeliverer{probe: map[string]error{"support": nil, "high_priority": fmt.Errorf("timeout")}}
	disp := newTestDispatcher(t, d, 1)

	h := disp.HealthCheck(context.Background())
	assert.Equal(t, health.StatusDegraded, h.Status)
	assert.Equal(t, health.StatusHealthy, h.Checks["rule_engine"].Status)
	assert.Equal(t, 2, disp.Statistics().QueuesCount)
}
