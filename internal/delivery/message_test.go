package delivery

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "mailroute/pkg/errors"
)

func TestBuildMessage_Body(t *testing.T) {
	rec := sampleRecord()
	q := Queue{Name: "billing", Backend: BackendSQS, Target: "u", MaxMessageSize: DefaultMaxMessageSize}
	now := time.Date(2024, 3, 4, 10, 0, 5, 0, time.UTC)

	msg, err := BuildMessage(rec, q, map[string]interface{}{"source": "imap"}, now)
	require.NoError(t, err)
	assert.Equal(t, rec.MessageID, msg.ID)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, "email_routing", body["message_type"])
	assert.Equal(t, "billing", body["queue"])
	assert.Equal(t, "2024-03-04T10:00:00Z", body["timestamp"])
	assert.Equal(t, map[string]interface{}{"source": "imap"}, body["additional_attributes"])

	data, ok := body["email_data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Invoice overdue", data["subject"])
	assert.Equal(t, "high", data["priority"])
}

func TestBuildMessage_Attributes(t *testing.T) {
	rec := sampleRecord()
	msg, err := BuildMessage(rec, Queue{Name: "q", MaxMessageSize: DefaultMaxMessageSize}, nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"sender":           "Billing Team <billing@Example.com>",
		"sender_domain":    "example.com",
		"priority":         "high",
		"has_attachments":  "true",
		"attachment_count": "1",
		"recipient_count":  "1",
		"subject":          "Invoice overdue",
	}, msg.StringAttributes())
	assert.Equal(t, "Number", msg.Attributes["attachment_count"].DataType)
	assert.Equal(t, "String", msg.Attributes["sender"].DataType)
	assert.Empty(t, msg.GroupID)
	assert.Empty(t, msg.DeduplicationID)
}

func TestBuildMessage_UnknownDomainAndLongSubject(t *testing.T) {
	rec := sampleRecord()
	rec.Sender = "postmaster"
	rec.Subject = strings.Repeat("é", 300)

	msg, err := BuildMessage(rec, Queue{Name: "q", MaxMessageSize: DefaultMaxMessageSize}, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "unknown", msg.Attributes["sender_domain"].Value)
	assert.Equal(t, 256, len([]rune(msg.Attributes["subject"].Value)))
}

func TestBuildMessage_FIFO(t *testing.T) {
	rec := sampleRecord()
	q := Queue{Name: "orders", FIFO: true, MaxMessageSize: DefaultMaxMessageSize}

	first, err := BuildMessage(rec, q, nil, time.Now())
	require.NoError(t, err)
	second, err := BuildMessage(rec, q, nil, time.Now().Add(time.Minute))
	require.NoError(t, err)
	other, err := BuildMessage(rec, Queue{Name: "other", FIFO: true, MaxMessageSize: DefaultMaxMessageSize}, nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "example.com", first.GroupID)
	assert.Len(t, first.DeduplicationID, 64)
	assert.Equal(t, first.DeduplicationID, second.DeduplicationID)
	assert.NotEqual(t, first.DeduplicationID, other.DeduplicationID)
}

func TestBuildMessage_TooLarge(t *testing.T) {
	rec := sampleRecord()
	rec.BodyText = strings.Repeat("x", 2048)

	_, err := BuildMessage(rec, Queue{Name: "tiny", MaxMessageSize: 1024}, nil, time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsDelivery(err))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, "tiny", appErr.Details["queue"])
}
