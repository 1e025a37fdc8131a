package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"mailroute/internal/record"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/models"
)

const (
	attrDataTypeString = "String"
	attrDataTypeNumber = "Number"

	maxSubjectAttrLen = 256
	unknownDomain     = "unknown"
)

type Attribute struct {
	DataType string
	Value    string
}

// Message is the backend-neutral payload handed to a Sender.
type Message struct {
	ID              string
	Body            []byte
	Attributes      map[string]Attribute
	GroupID         string
	DeduplicationID string
}

// StringAttributes flattens the attributes for backends without typed
// attribute support.
func (m *Message) StringAttributes() map[string]string {
	out := make(map[string]string, len(m.Attributes))
	for k, a := range m.Attributes {
		out[k] = a.Value
	}
	return out
}

// BuildMessage serializes rec for q. It fails with a fatal DELIVERY_ERROR when
// the body exceeds the queue's size limit.
func BuildMessage(rec *record.Record, q Queue, extra map[string]interface{}, now time.Time) (*Message, error) {
	envelope := models.NewRoutedMessageBuilder().
		WithRecord(rec, rec.ReceivedAt).
		WithQueue(q.Name).
		WithAttributes(extra).
		WithRoutedAt(now.UTC()).
		Build()

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, apperrors.ErrDelivery.WithCause(err).WithDetail("queue", q.Name).AsFatal()
	}

	if q.MaxMessageSize > 0 && len(body) > q.MaxMessageSize {
		return nil, apperrors.ErrDelivery.
			WithMessage("message of %d bytes exceeds queue %q limit of %d bytes", len(body), q.Name, q.MaxMessageSize).
			WithDetail("queue", q.Name).
			WithDetail("size", len(body)).
			AsFatal()
	}

	msg := &Message{
		ID:         rec.ID(),
		Body:       body,
		Attributes: recordAttributes(rec),
	}
	if q.FIFO {
		msg.GroupID = groupID(rec)
		msg.DeduplicationID = deduplicationID(rec.ID(), q.Name)
	}
	return msg, nil
}

func recordAttributes(rec *record.Record) map[string]Attribute {
	domain := rec.SenderDomain()
	if domain == "" {
		domain = unknownDomain
	}
	subject := []rune(rec.Subject)
	if len(subject) > maxSubjectAttrLen {
		subject = subject[:maxSubjectAttrLen]
	}
	priority := rec.Priority
	if priority == "" {
		priority = record.PriorityNormal
	}

	attrs := map[string]Attribute{
		"sender":           {DataType: attrDataTypeString, Value: rec.Sender},
		"sender_domain":    {DataType: attrDataTypeString, Value: domain},
		"priority":         {DataType: attrDataTypeString, Value: string(priority)},
		"has_attachments":  {DataType: attrDataTypeString, Value: strconv.FormatBool(rec.HasAttachments())},
		"attachment_count": {DataType: attrDataTypeNumber, Value: strconv.Itoa(len(rec.Attachments))},
		"recipient_count":  {DataType: attrDataTypeNumber, Value: strconv.Itoa(len(rec.Recipients))},
		"subject":          {DataType: attrDataTypeString, Value: string(subject)},
	}

	// SQS rejects empty string attribute values.
	for k, a := range attrs {
		if a.Value == "" {
			delete(attrs, k)
		}
	}
	return attrs
}

func groupID(rec *record.Record) string {
	if domain := rec.SenderDomain(); domain != "" {
		return domain
	}
	return unknownDomain
}

func deduplicationID(messageID, queue string) string {
	sum := sha256.Sum256([]byte(messageID + "|" + queue))
	return hex.EncodeToString(sum[:])
}
