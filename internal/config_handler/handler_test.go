package config_handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/internal/broker"
	"mailroute/internal/config"
	"mailroute/internal/delivery"
	"mailroute/internal/logger"
	"mailroute/internal/routing"
	"mailroute/pkg/cel"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/models"
)

type countingReloader struct {
	calls int
	err   error
}

func (r *countingReloader) ReloadRules(context.Context) error {
	r.calls++
	return r.err
}

func eventMessage(t *testing.T, event models.ConfigUpdateEvent) broker.Message {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return broker.Message{Key: event.EventType, Value: body}
}

func TestHandler_HandleConfigUpdateEvent(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		msg       func(t *testing.T) broker.Message
		wantCalls int
		wantErr   bool
	}{
		{
			name: "rules updated triggers reload",
			msg: func(t *testing.T) broker.Message {
				return eventMessage(t, models.ConfigUpdateEvent{EventType: models.EventTypeRoutingRulesUpdated, Action: models.ActionCreate})
			},
			wantCalls: 1,
		},
		{
			name: "queues updated triggers reload",
			msg: func(t *testing.T) broker.Message {
				return eventMessage(t, models.ConfigUpdateEvent{EventType: models.EventTypeQueuesUpdated, Action: models.ActionReload})
			},
			wantCalls: 1,
		},
		{
			name: "unrelated event ignored",
			msg: func(t *testing.T) broker.Message {
				return eventMessage(t, models.ConfigUpdateEvent{EventType: "filtering_rules_updated"})
			},
		},
		{
			name: "own event ignored",
			msg: func(t *testing.T) broker.Message {
				return eventMessage(t, models.ConfigUpdateEvent{
					EventType: models.EventTypeRoutingRulesUpdated,
					Metadata:  map[string]interface{}{"origin": "instance-a"},
				})
			},
		},
		{
			name: "missing event type ignored",
			msg: func(t *testing.T) broker.Message {
				return broker.Message{Value: []byte(`{"action":"create"}`)}
			},
		},
		{
			name: "invalid json is fatal",
			msg: func(t *testing.T) broker.Message {
				return broker.Message{Value: []byte(`{`)}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reloader := &countingReloader{}
			h := NewHandler(reloader, "instance-a", logger.NopLogger())

			err := h.HandleConfigUpdateEvent(ctx, tt.msg(t))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidation(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, reloader.calls)
		})
	}
}

func TestHandler_PropagatesReloadError(t *testing.T) {
	reloader := &countingReloader{err: errors.New("file vanished")}
	h := NewHandler(reloader, "instance-a", logger.NopLogger())

	err := h.HandleConfigUpdateEvent(context.Background(),
		eventMessage(t, models.ConfigUpdateEvent{EventType: models.EventTypeRoutingRulesUpdated}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file vanished")
}

type fakeQueues struct {
	names   map[string]bool
	removed []string
}

func (q *fakeQueues) LoadQueues(defs []delivery.QueueDefinition) (int, []error) {
	for _, d := range defs {
		q.names[d.Name] = true
	}
	return len(defs), nil
}

func (q *fakeQueues) RemoveQueue(name string) bool {
	delete(q.names, name)
	q.removed = append(q.removed, name)
	return true
}

func (q *fakeQueues) QueueNames() []string {
	out := make([]string, 0, len(q.names))
	for n := range q.names {
		out = append(out, n)
	}
	return out
}

func newRuleSet(t *testing.T) *routing.RuleSet {
	t.Helper()
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	return routing.NewRuleSet(eval, routing.NewContextBuilder(time.UTC, nil), logger.NopLogger())
}

func TestReloader_SwapsOnlyWhenChanged(t *testing.T) {
	var mu sync.Mutex
	table := &config.RuleFile{
		Rules:  []routing.RuleDefinition{{Name: "a", Condition: "true", Action: "default"}},
		Queues: []delivery.QueueDefinition{{Name: "default", Backend: "log"}},
	}
	load := func() (*config.RuleFile, error) {
		mu.Lock()
		defer mu.Unlock()
		return table, nil
	}

	rules := newRuleSet(t)
	queues := &fakeQueues{names: map[string]bool{"default": true, "legacy": true}}
	r := NewReloader(load, rules, queues, time.Minute, logger.NopLogger())

	require.NoError(t, r.ReloadRules(context.Background()))
	assert.Equal(t, 1, rules.Len())
	assert.Equal(t, []string{"legacy"}, queues.removed)

	// An API-side edit survives a reload of the unchanged table.
	require.NoError(t, rules.Add(routing.Rule{Name: "api", Condition: "true", Action: "default", Enabled: true}))
	require.NoError(t, r.ReloadRules(context.Background()))
	assert.Equal(t, 2, rules.Len())

	mu.Lock()
	table = &config.RuleFile{Rules: []routing.RuleDefinition{
		{Name: "b", Condition: "true", Action: "default"},
		{Name: "c", Condition: "subject ==", Action: "default"},
	}}
	mu.Unlock()

	require.NoError(t, r.ReloadRules(context.Background()))
	names := make([]string, 0)
	for _, rule := range rules.Rules() {
		names = append(names, rule.Name)
	}
	assert.Equal(t, []string{"b"}, names)
}

func TestReloader_MarkLoadedAndErrors(t *testing.T) {
	table := &config.RuleFile{Rules: []routing.RuleDefinition{{Name: "a", Condition: "true", Action: "default"}}}
	rules := newRuleSet(t)
	r := NewReloader(func() (*config.RuleFile, error) { return table, nil }, rules, nil, 0, logger.NopLogger())

	require.NoError(t, r.MarkLoaded(table))
	require.NoError(t, r.ReloadRules(context.Background()))
	assert.Equal(t, 0, rules.Len())

	failing := NewReloader(func() (*config.RuleFile, error) { return nil, errors.New("boom") }, rules, nil, 0, logger.NopLogger())
	require.Error(t, failing.ReloadRules(context.Background()))
}

func TestReloader_StartStopsOnCancel(t *testing.T) {
	rules := newRuleSet(t)
	calls := 0
	var mu sync.Mutex
	r := NewReloader(func() (*config.RuleFile, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return &config.RuleFile{}, nil
	}, rules, nil, 5*time.Millisecond, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type recordingProducer struct {
	topic string
	msg   broker.Message
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg broker.Message) error {
	p.topic, p.msg = topic, msg
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestNotifier_RoundTripsThroughHandler(t *testing.T) {
	producer := &recordingProducer{}
	n := NewNotifier(producer, "routing_config_updates", "instance-a")

	require.NoError(t, n.Notify(context.Background(), models.ConfigUpdateEvent{
		EventType: models.EventTypeRoutingRulesUpdated,
		RuleName:  "urgent",
		Action:    models.ActionDisable,
	}))
	assert.Equal(t, "routing_config_updates", producer.topic)
	assert.Equal(t, models.ActionDisable, producer.msg.Headers["action"])

	var event models.ConfigUpdateEvent
	require.NoError(t, json.Unmarshal(producer.msg.Value, &event))
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "instance-a", event.Metadata["origin"])

	self := &countingReloader{}
	require.NoError(t, NewHandler(self, "instance-a", logger.NopLogger()).HandleConfigUpdateEvent(context.Background(), producer.msg))
	assert.Equal(t, 0, self.calls)

	peer := &countingReloader{}
	require.NoError(t, NewHandler(peer, "instance-b", logger.NopLogger()).HandleConfigUpdateEvent(context.Background(), producer.msg))
	assert.Equal(t, 1, peer.calls)
}
