package management

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mailroute/internal/routing"
)

const DefaultAuditCapacity = 500

type AuditEntry struct {
	ID        string                  `json:"id"`
	RuleName  string                  `json:"rule_name,omitempty"`
	Action    string                  `json:"action"`
	OldValue  *routing.RuleDefinition `json:"old_value,omitempty"`
	NewValue  *routing.RuleDefinition `json:"new_value,omitempty"`
	ChangedBy string                  `json:"changed_by"`
	IPAddress string                  `json:"ip_address,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// AuditLog keeps the most recent rule changes made through the API in memory.
// Entries are lost on restart.
type AuditLog struct {
	mu       sync.RWMutex
	entries  []AuditEntry
	capacity int
}

func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{capacity: capacity}
}

func (a *AuditLog) Record(entry AuditEntry) AuditEntry {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ChangedBy == "" {
		entry.ChangedBy = "anonymous"
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	if over := len(a.entries) - a.capacity; over > 0 {
		a.entries = append([]AuditEntry(nil), a.entries[over:]...)
	}
	return entry
}

// Entries returns up to limit entries, newest first. An empty ruleName
// matches every entry; limit <= 0 returns all of them.
func (a *AuditLog) Entries(ruleName string, limit int) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]AuditEntry, 0, len(a.entries))
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if ruleName != "" && e.RuleName != ruleName {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
