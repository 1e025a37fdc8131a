package models

import "time"

// ConfigUpdateEvent announces that routing definitions changed and running
// routers should reload them.
type ConfigUpdateEvent struct {
	EventType string                 `json:"event_type"`
	RuleName  string                 `json:"rule_name,omitempty"`
	Action    string                 `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	ChangedBy string                 `json:"changed_by,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeRoutingRulesUpdated = "routing_rules_updated"
	EventTypeQueuesUpdated       = "routing_queues_updated"
)

const (
	ActionCreate  = "create"
	ActionDelete  = "delete"
	ActionEnable  = "enable"
	ActionDisable = "disable"
	ActionReload  = "reload"
)
