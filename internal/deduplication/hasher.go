package deduplication

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"mailroute/internal/record"
)

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmMD5    = "md5"
)

// Record fields that can take part in the duplicate key.
const (
	FieldMessageID  = "message_id"
	FieldSender     = "sender"
	FieldSubject    = "subject"
	FieldRecipients = "recipients"
	FieldBodyText   = "body_text"
	FieldReceived   = "received_date"
)

var DefaultFields = []string{FieldMessageID, FieldSender}

var knownFields = map[string]func(*record.Record) string{
	FieldMessageID: func(r *record.Record) string { return r.MessageID },
	FieldSender:    func(r *record.Record) string { return strings.ToLower(r.Sender) },
	FieldSubject:   func(r *record.Record) string { return r.Subject },
	FieldRecipients: func(r *record.Record) string {
		rcpts := make([]string, len(r.Recipients))
		for i, rcpt := range r.Recipients {
			rcpts[i] = strings.ToLower(rcpt)
		}
		sort.Strings(rcpts)
		return strings.Join(rcpts, ",")
	},
	FieldBodyText: func(r *record.Record) string { return r.BodyText },
	FieldReceived: func(r *record.Record) string { return r.ReceivedAt.UTC().Format(time.RFC3339Nano) },
}

// Hasher derives a stable key from selected record fields.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

func (h *Hasher) ComputeHash(rec *record.Record, fields []string) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("no fields specified for hashing")
	}

	var builder strings.Builder
	for _, field := range fields {
		value, ok := knownFields[field]
		if !ok {
			return "", fmt.Errorf("unknown dedup field %q", field)
		}
		builder.WriteString(value(rec))
		builder.WriteByte('|')
	}
	input := []byte(builder.String())

	switch h.algorithm {
	case AlgorithmMD5:
		sum := md5.Sum(input)
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := sha256.Sum256(input)
		return hex.EncodeToString(sum[:]), nil
	}
}
