// Package stats owns the dispatcher's process-wide counters and the health
// view derived from the rule engine and the delivery subsystem.
package stats

import (
	"sync"
	"time"
)

// Outcome is what the dispatcher reports for one processed record.
type Outcome struct {
	MatchedRules []string
	Queue        string
	Success      bool
	// Delivered is true only when a real (non dry-run) send succeeded.
	Delivered bool
}

type Snapshot struct {
	TotalProcessed     int64            `json:"total_processed"`
	Successful         int64            `json:"successful"`
	Failed             int64            `json:"failed"`
	SuccessRate        float64          `json:"success_rate"`
	SuccessRatePercent float64          `json:"success_rate_percent"`
	RuleMatches        map[string]int64 `json:"rule_matches"`
	QueueUsage         map[string]int64 `json:"queue_usage"`
	StartedAt          time.Time        `json:"started_at"`
	Uptime             time.Duration    `json:"-"`
	UptimeSeconds      float64          `json:"uptime_seconds"`

	RulesCount        int `json:"rules_count"`
	EnabledRulesCount int `json:"enabled_rules_count"`
	QueuesCount       int `json:"queues_count"`
}

// Statistics is safe for concurrent use. Every method takes the same lock, so
// a Snapshot never observes a half-applied outcome.
type Statistics struct {
	mu  sync.Mutex
	now func() time.Time

	total       int64
	successful  int64
	failed      int64
	ruleMatches map[string]int64
	queueUsage  map[string]int64
	startedAt   time.Time
}

func New() *Statistics {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Statistics {
	s := &Statistics{now: now}
	s.resetLocked()
	return s
}

func (s *Statistics) resetLocked() {
	s.total = 0
	s.successful = 0
	s.failed = 0
	s.ruleMatches = make(map[string]int64)
	s.queueUsage = make(map[string]int64)
	s.startedAt = s.now()
}

func (s *Statistics) RecordOutcome(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if o.Success {
		s.successful++
	} else {
		s.failed++
	}

	for _, name := range o.MatchedRules {
		s.ruleMatches[name]++
	}

	if o.Delivered && o.Queue != "" {
		s.queueUsage[o.Queue]++
	}
}

func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ruleMatches := make(map[string]int64, len(s.ruleMatches))
	for k, v := range s.ruleMatches {
		ruleMatches[k] = v
	}
	queueUsage := make(map[string]int64, len(s.queueUsage))
	for k, v := range s.queueUsage {
		queueUsage[k] = v
	}

	denominator := s.total
	if denominator < 1 {
		denominator = 1
	}
	rate := float64(s.successful) / float64(denominator)
	uptime := s.now().Sub(s.startedAt)

	return Snapshot{
		TotalProcessed:     s.total,
		Successful:         s.successful,
		Failed:             s.failed,
		SuccessRate:        rate,
		SuccessRatePercent: rate * 100,
		RuleMatches:        ruleMatches,
		QueueUsage:         queueUsage,
		StartedAt:          s.startedAt,
		Uptime:             uptime,
		UptimeSeconds:      uptime.Seconds(),
	}
}

func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}
