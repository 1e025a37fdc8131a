package management

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"mailroute/internal/config"
	"mailroute/internal/constants"
	"mailroute/internal/logger"
	"mailroute/internal/record"
	"mailroute/internal/routing"
	"mailroute/internal/stats"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/health"
	"mailroute/pkg/metrics"
	"mailroute/pkg/models"
)

const maxRecordsPerRequest = 1000

// QueueProber reports reachability of every configured queue.
type QueueProber interface {
	ProbeQueues(ctx context.Context) (map[string]error, error)
}

// EventNotifier announces rule changes to other router instances.
type EventNotifier interface {
	Notify(ctx context.Context, event models.ConfigUpdateEvent) error
}

type Service struct {
	dispatcher *routing.Dispatcher
	queues     QueueProber
	notifier   EventNotifier
	audit      *AuditLog
	logger     logger.Logger
}

type ServiceOption func(*Service)

func WithQueueProber(queues QueueProber) ServiceOption {
	return func(s *Service) {
		s.queues = queues
	}
}

func WithNotifier(notifier EventNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

func WithAuditLog(audit *AuditLog) ServiceOption {
	return func(s *Service) {
		s.audit = audit
	}
}

func NewService(dispatcher *routing.Dispatcher, log logger.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = logger.NopLogger()
	}
	s := &Service{
		dispatcher: dispatcher,
		logger:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = NewAuditLog(DefaultAuditCapacity)
	}
	return s
}

func (s *Service) rules() *routing.RuleSet {
	return s.dispatcher.Rules()
}

// ListRules returns every rule, highest priority first. Ties keep insertion order.
func (s *Service) ListRules() RuleListResponse {
	rules := s.rules().Rules()
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return RuleListResponse{
		Rules:        rules,
		Total:        len(rules),
		Enabled:      s.rules().EnabledCount(),
		DefaultQueue: s.dispatcher.DefaultQueue(),
	}
}

func (s *Service) GetRule(name string) (routing.Rule, error) {
	rule, ok := s.rules().Rule(name)
	if !ok {
		return routing.Rule{}, ruleNotFound(name)
	}
	return rule, nil
}

func (s *Service) CreateRule(ctx context.Context, def routing.RuleDefinition, change ChangeContext) (routing.Rule, error) {
	rule, err := def.ToRule()
	if err != nil {
		return routing.Rule{}, err
	}
	if err := s.rules().Add(rule); err != nil {
		return routing.Rule{}, err
	}

	created, _ := s.rules().Rule(rule.Name)
	newDef := created.Definition()
	s.recordChange(ctx, models.ActionCreate, rule.Name, nil, &newDef, change)
	return created, nil
}

func (s *Service) DeleteRule(ctx context.Context, name string, change ChangeContext) error {
	existing, ok := s.rules().Rule(name)
	if !ok || !s.rules().Remove(name) {
		return ruleNotFound(name)
	}

	oldDef := existing.Definition()
	s.recordChange(ctx, models.ActionDelete, name, &oldDef, nil, change)
	return nil
}

func (s *Service) SetRuleEnabled(ctx context.Context, name string, enabled bool, change ChangeContext) (routing.Rule, error) {
	existing, ok := s.rules().Rule(name)
	if !ok {
		return routing.Rule{}, ruleNotFound(name)
	}

	var changed bool
	action := models.ActionEnable
	if enabled {
		changed = s.rules().Enable(name)
	} else {
		changed = s.rules().Disable(name)
		action = models.ActionDisable
	}
	if !changed {
		return routing.Rule{}, ruleNotFound(name)
	}

	updated, _ := s.rules().Rule(name)
	oldDef, newDef := existing.Definition(), updated.Definition()
	s.recordChange(ctx, action, name, &oldDef, &newDef, change)
	return updated, nil
}

func (s *Service) ValidateCondition(condition string) ValidateResponse {
	resp := ValidateResponse{Condition: condition, Valid: true}
	if strings.TrimSpace(condition) == "" {
		resp.Valid = false
		resp.Error = "condition is empty"
		return resp
	}
	if err := s.rules().ValidateCondition(condition); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	}
	return resp
}

func (s *Service) TestCondition(ctx context.Context, condition string, records []record.Record) (routing.TestReport, error) {
	normalized, err := prepareRecords(records)
	if err != nil {
		return routing.TestReport{}, err
	}
	return s.dispatcher.TestCondition(ctx, condition, normalized)
}

// ExportRules encodes the current rule set with the default queue as a rule
// file that LoadConfig and `rules validate` accept.
func (s *Service) ExportRules(format string) ([]byte, string, error) {
	format, err := config.ParseFormat(format)
	if err != nil {
		return nil, "", err
	}
	data, err := config.EncodeRuleFile(&config.RuleFile{
		DefaultQueue: s.dispatcher.DefaultQueue(),
		Rules:        s.rules().ExportRules(),
	}, format)
	if err != nil {
		return nil, "", apperrors.ErrInternal.WithCause(err)
	}
	return data, format, nil
}

func (s *Service) Statistics() stats.Snapshot {
	return s.dispatcher.Statistics()
}

func (s *Service) ResetStatistics(ctx context.Context, change ChangeContext) {
	s.dispatcher.ResetStatistics()
	s.logger.InfowCtx(ctx, "Statistics reset", "changed_by", change.ChangedBy)
}

func (s *Service) Health(ctx context.Context) health.Health {
	return s.dispatcher.HealthCheck(ctx)
}

func (s *Service) Process(ctx context.Context, records []record.Record, dryRun bool) (ProcessResponse, error) {
	normalized, err := prepareRecords(records)
	if err != nil {
		metrics.IncIntakeRecords(constants.IntakeSourceAPI, false)
		return ProcessResponse{}, err
	}
	for range normalized {
		metrics.IncIntakeRecords(constants.IntakeSourceAPI, true)
	}

	results := s.dispatcher.ProcessBatch(ctx, normalized, dryRun)
	resp := ProcessResponse{DryRun: dryRun, Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			resp.Successful++
		} else {
			resp.Failed++
		}
	}
	return resp, nil
}

// TestQueues probes every configured queue, sorted by name.
func (s *Service) TestQueues(ctx context.Context) ([]QueueStatus, error) {
	if s.queues == nil {
		return []QueueStatus{}, nil
	}
	probed, err := s.queues.ProbeQueues(ctx)
	if err != nil {
		return nil, apperrors.ErrUnavailable.WithCause(err)
	}

	out := make([]QueueStatus, 0, len(probed))
	for name, perr := range probed {
		st := QueueStatus{Name: name, Reachable: perr == nil}
		if perr != nil {
			st.Error = perr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) AuditLogs(ruleName string, limit int) []AuditEntry {
	return s.audit.Entries(ruleName, limit)
}

func (s *Service) recordChange(ctx context.Context, action, ruleName string, oldDef, newDef *routing.RuleDefinition, change ChangeContext) {
	entry := s.audit.Record(AuditEntry{
		RuleName:  ruleName,
		Action:    action,
		OldValue:  oldDef,
		NewValue:  newDef,
		ChangedBy: change.ChangedBy,
		IPAddress: change.IPAddress,
	})

	s.logger.InfowCtx(ctx, "Rule set changed",
		"action", action,
		"rule", ruleName,
		"changed_by", entry.ChangedBy,
	)

	if s.notifier == nil {
		return
	}
	event := models.ConfigUpdateEvent{
		EventType: models.EventTypeRoutingRulesUpdated,
		RuleName:  ruleName,
		Action:    action,
		Timestamp: entry.Timestamp,
		ChangedBy: entry.ChangedBy,
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish config update event", "rule", ruleName, "action", action, "error", err)
	}
}

func prepareRecords(records []record.Record) ([]record.Record, error) {
	if len(records) == 0 {
		return nil, apperrors.ErrValidation.WithMessage("at least one record is required")
	}
	if len(records) > maxRecordsPerRequest {
		return nil, apperrors.ErrValidation.
			WithMessage("too many records: %d (max %d)", len(records), maxRecordsPerRequest)
	}

	now := time.Now().UTC()
	out := make([]record.Record, len(records))
	for i, r := range records {
		out[i] = record.Normalize(r, now)
		if err := out[i].Validate(); err != nil {
			var appErr *apperrors.Error
			if errors.As(err, &appErr) {
				return nil, appErr.WithDetail("index", i)
			}
			return nil, apperrors.ErrValidation.WithCause(err).WithDetail("index", i)
		}
	}
	return out, nil
}

func ruleNotFound(name string) error {
	return apperrors.ErrNotFound.WithMessage("rule %q not found", name).WithDetail("rule", name)
}
