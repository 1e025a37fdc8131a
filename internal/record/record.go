// Package record defines the normalized message that flows through routing.
package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "mailroute/pkg/errors"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriority maps an X-Priority / Priority header value to a Priority.
// Unknown or empty values are normal.
func ParsePriority(header string) Priority {
	h := strings.ToLower(strings.TrimSpace(header))
	switch {
	case h == "":
		return PriorityNormal
	case strings.Contains(h, "urgent"):
		return PriorityUrgent
	case strings.Contains(h, "high"), strings.HasPrefix(h, "1"), strings.HasPrefix(h, "2"):
		return PriorityHigh
	case strings.Contains(h, "low"), strings.HasPrefix(h, "4"), strings.HasPrefix(h, "5"):
		return PriorityLow
	default:
		return PriorityNormal
	}
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	HasContent  bool   `json:"has_content"`
}

// Record is one message to be routed. It is built once by intake and must not
// be modified afterwards; routing code only reads it.
type Record struct {
	MessageID   string            `json:"message_id"`
	Subject     string            `json:"subject"`
	Sender      string            `json:"sender"`
	Recipients  []string          `json:"recipients"`
	CC          []string          `json:"cc_recipients,omitempty"`
	BCC         []string          `json:"bcc_recipients,omitempty"`
	BodyText    string            `json:"body_text"`
	BodyHTML    string            `json:"body_html,omitempty"`
	ReceivedAt  time.Time         `json:"received_date"`
	SentAt      *time.Time        `json:"sent_date,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Priority    Priority          `json:"priority"`
}

// SenderDomain is the lower-cased text after the last '@' of the sender, or ""
// when the sender has no '@'.
func (r *Record) SenderDomain() string {
	i := strings.LastIndex(r.Sender, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(strings.TrimSuffix(r.Sender[i+1:], ">")))
}

// ID returns the message identifier used to correlate results.
func (r *Record) ID() string {
	return r.MessageID
}

func (r *Record) HasAttachments() bool {
	return len(r.Attachments) > 0
}

func (r *Record) HasAttachmentType(contentType string) bool {
	want := strings.ToLower(contentType)
	for _, a := range r.Attachments {
		if strings.ToLower(a.ContentType) == want {
			return true
		}
	}
	return false
}

func (r *Record) TotalRecipients() int {
	return len(r.Recipients) + len(r.CC) + len(r.BCC)
}

// Validate reports records that cannot be routed meaningfully.
func (r *Record) Validate() error {
	if r.Subject == "" && r.BodyText == "" {
		return apperrors.ErrValidation.WithMessage("record has no subject or body")
	}
	if r.Sender == "" {
		return apperrors.ErrValidation.WithMessage("record has no sender")
	}
	if len(r.Recipients) == 0 {
		return apperrors.ErrValidation.WithMessage("record has no recipients")
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return apperrors.ErrValidation.WithMessage("unknown priority %q", r.Priority)
	}
	return nil
}

// Normalize fills defaults intake sources may leave empty: a generated message
// id, a received time, and the normal priority.
func Normalize(r Record, now time.Time) Record {
	if r.MessageID == "" {
		r.MessageID = fmt.Sprintf("<%s@mailroute.local>", uuid.NewString())
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = now
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	return r
}

// FromJSON decodes a record serialized with the JSON field names above.
func FromJSON(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, apperrors.ErrValidation.WithCause(err).WithMessage("invalid record JSON")
	}
	return Normalize(r, time.Now()), nil
}
