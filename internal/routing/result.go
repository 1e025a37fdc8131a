package routing

import (
	"time"
	"unicode/utf8"
)

const subjectPreviewLen = 100

// ProcessingResult is produced for every Process call, successful or not.
type ProcessingResult struct {
	RecordID     string        `json:"record_id"`
	Subject      string        `json:"subject"`
	MatchedRules []string      `json:"matched_rules"`
	Queue        string        `json:"selected_queue"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	DeliveryID   string        `json:"delivery_id,omitempty"`
	Delivered    bool          `json:"delivered"`
	DryRun       bool          `json:"dry_run"`
	Elapsed      time.Duration `json:"-"`
	ElapsedMS    float64       `json:"processing_time_ms"`

	err error
}

// Err returns the underlying error, if any.
func (r ProcessingResult) Err() error {
	return r.err
}

func (r *ProcessingResult) fail(err error, code string) {
	r.Success = false
	r.err = err
	r.Error = err.Error()
	r.ErrorCode = code
}

// TestReport summarizes an ad hoc condition run against a set of records.
type TestReport struct {
	Condition    string            `json:"condition"`
	TotalRecords int               `json:"total_records"`
	Matches      int               `json:"matches"`
	Errors       int               `json:"errors"`
	MatchingIDs  []string          `json:"matching_records"`
	ErrorDetails map[string]string `json:"error_details,omitempty"`
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
