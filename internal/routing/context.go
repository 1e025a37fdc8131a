package routing

import (
	"strings"
	"time"

	"mailroute/internal/record"
	"mailroute/pkg/cel"
)

const (
	businessHourStart = 9
	businessHourEnd   = 17
)

var (
	gmailDomains   = map[string]bool{"gmail.com": true, "googlemail.com": true}
	outlookDomains = map[string]bool{"outlook.com": true, "hotmail.com": true, "live.com": true, "msn.com": true}
)

// ContextBuilder turns a record into the flat attribute map conditions are
// evaluated against. A builder is immutable and safe for concurrent use.
type ContextBuilder struct {
	location        *time.Location
	internalDomains []string
}

func NewContextBuilder(location *time.Location, internalDomains []string) *ContextBuilder {
	if location == nil {
		location = time.UTC
	}
	domains := make([]string, 0, len(internalDomains))
	for _, d := range internalDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &ContextBuilder{location: location, internalDomains: domains}
}

// Build never fails: absent optional fields become zero values.
func (b *ContextBuilder) Build(rec *record.Record, extra map[string]interface{}) map[string]interface{} {
	received := rec.ReceivedAt.In(b.location)
	sent := time.Unix(0, 0).UTC()
	if rec.SentAt != nil {
		sent = *rec.SentAt
	}

	filenames := make([]string, 0, len(rec.Attachments))
	types := make([]string, 0, len(rec.Attachments))
	var totalSize int64
	for _, a := range rec.Attachments {
		filenames = append(filenames, a.Filename)
		types = append(types, strings.ToLower(a.ContentType))
		totalSize += a.Size
	}

	headers := rec.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	if extra == nil {
		extra = map[string]interface{}{}
	}

	priority := string(rec.Priority)
	if priority == "" {
		priority = string(record.PriorityNormal)
	}

	domain := rec.SenderDomain()
	hour := received.Hour()
	weekday := received.Weekday()
	businessHours := hour >= businessHourStart && hour <= businessHourEnd

	return map[string]interface{}{
		cel.AttrSubject:             rec.Subject,
		cel.AttrSender:              rec.Sender,
		cel.AttrSenderDomain:        domain,
		cel.AttrRecipients:          nonNil(rec.Recipients),
		cel.AttrCCRecipients:        nonNil(rec.CC),
		cel.AttrBCCRecipients:       nonNil(rec.BCC),
		cel.AttrBodyText:            rec.BodyText,
		cel.AttrBodyHTML:            rec.BodyHTML,
		cel.AttrMessageID:           rec.MessageID,
		cel.AttrPriority:            priority,
		cel.AttrHeaders:             headers,
		cel.AttrReceivedDate:        received,
		cel.AttrSentDate:            sent,
		cel.AttrRecipientCount:      len(rec.Recipients),
		cel.AttrCCCount:             len(rec.CC),
		cel.AttrBCCCount:            len(rec.BCC),
		cel.AttrTotalRecipients:     rec.TotalRecipients(),
		cel.AttrHasAttachments:      rec.HasAttachments(),
		cel.AttrAttachmentCount:     len(rec.Attachments),
		cel.AttrAttachmentFilenames: filenames,
		cel.AttrAttachmentTypes:     types,
		cel.AttrTotalAttachmentSize: totalSize,
		cel.AttrSubjectLength:       len([]rune(rec.Subject)),
		cel.AttrBodyLength:          len([]rune(rec.BodyText)),
		cel.AttrHasHTMLBody:         rec.BodyHTML != "",
		cel.AttrReceivedHour:        hour,
		cel.AttrReceivedDayOfWeek:   (int(weekday) + 6) % 7,
		cel.AttrIsWeekend:           weekday == time.Saturday || weekday == time.Sunday,
		cel.AttrIsBusinessHours:     businessHours,
		cel.AttrIsAfterHours:        !businessHours,
		cel.AttrIsGmail:             gmailDomains[domain],
		cel.AttrIsOutlook:           outlookDomains[domain],
		cel.AttrIsInternal:          b.isInternal(domain),
		cel.AttrExtra:               extra,
	}
}

func (b *ContextBuilder) isInternal(domain string) bool {
	if domain == "" {
		return false
	}
	for _, d := range b.internalDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
