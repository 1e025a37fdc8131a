package management

import (
	"mailroute/internal/record"
	"mailroute/internal/routing"
)

type ConditionRequest struct {
	Condition string `json:"condition" binding:"required"`
}

type ValidateResponse struct {
	Condition string `json:"condition"`
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
}

type TestConditionRequest struct {
	Condition string          `json:"condition" binding:"required"`
	Records   []record.Record `json:"records" binding:"required"`
}

type ProcessRequest struct {
	Records []record.Record `json:"records" binding:"required"`
	// DryRun defaults to true; deliveries only happen when it is explicitly false.
	DryRun *bool `json:"dry_run,omitempty"`
}

type ProcessResponse struct {
	DryRun     bool                       `json:"dry_run"`
	Total      int                        `json:"total"`
	Successful int                        `json:"successful"`
	Failed     int                        `json:"failed"`
	Results    []routing.ProcessingResult `json:"results"`
}

type RuleListResponse struct {
	Rules        []routing.Rule `json:"rules"`
	Total        int            `json:"total"`
	Enabled      int            `json:"enabled"`
	DefaultQueue string         `json:"default_queue"`
}

type QueueStatus struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// ChangeContext identifies who changed the rule set and from where.
type ChangeContext struct {
	ChangedBy string
	IPAddress string
}
