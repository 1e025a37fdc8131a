// Package intake turns external message sources (.eml files, mbox archives,
// directories, Postgres tables, Kafka topics) into routing records.
package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"mailroute/internal/record"
	apperrors "mailroute/pkg/errors"
)

const maxBodyBytes = 10 << 20

// priorityHeaders are consulted in order; the first non-empty value wins.
var priorityHeaders = []string{"X-Priority", "Importance", "Priority"}

// ParseEML reads a single RFC 5322 message. Unknown charsets are tolerated:
// the affected text is kept undecoded. received is used as the record's
// received time.
func ParseEML(r io.Reader, received time.Time) (record.Record, error) {
	reader, err := gomail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return record.Record{}, apperrors.ErrRecordProcessing.WithCause(err).WithMessage("cannot parse message")
	}

	rec := record.Record{
		Subject:    subjectFromHeader(&reader.Header),
		Sender:     addressFromHeader(&reader.Header, "From"),
		Recipients: addressesFromHeader(&reader.Header, "To"),
		CC:         addressesFromHeader(&reader.Header, "Cc"),
		BCC:        addressesFromHeader(&reader.Header, "Bcc"),
		MessageID:  strings.TrimSpace(reader.Header.Get("Message-Id")),
		ReceivedAt: received,
		Headers:    headerMap(reader.Header),
		Priority:   priorityFromHeader(&reader.Header),
	}

	if sent, err := reader.Header.Date(); err == nil && !sent.IsZero() {
		rec.SentAt = &sent
	}

	rec.BodyText, rec.BodyHTML, rec.Attachments = readParts(reader)

	return record.Normalize(rec, received), nil
}

func ParseEMLBytes(raw []byte, received time.Time) (record.Record, error) {
	return ParseEML(bytes.NewReader(raw), received)
}

func ParseEMLFile(path string, received time.Time) (record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return record.Record{}, err
	}
	defer f.Close()

	rec, err := ParseEML(f, received)
	if err != nil {
		return record.Record{}, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

func subjectFromHeader(header *gomail.Header) string {
	if subject, err := header.Subject(); err == nil {
		return subject
	}
	return header.Get("Subject")
}

func addressFromHeader(header *gomail.Header, key string) string {
	if list, err := header.AddressList(key); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0].Address)
	}
	return strings.TrimSpace(header.Get(key))
}

func addressesFromHeader(header *gomail.Header, key string) []string {
	list, err := header.AddressList(key)
	if err != nil {
		return splitAddresses(header.Get(key))
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if a := strings.TrimSpace(addr.Address); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func splitAddresses(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func priorityFromHeader(header *gomail.Header) record.Priority {
	for _, key := range priorityHeaders {
		if v := header.Get(key); v != "" {
			return record.ParsePriority(v)
		}
	}
	return record.PriorityNormal
}

// headerMap keeps the first occurrence of each header, decoded when possible.
func headerMap(header gomail.Header) map[string]string {
	out := make(map[string]string)
	fields := header.Fields()
	for fields.Next() {
		key := fields.Key()
		if _, seen := out[key]; seen {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		out[key] = value
	}
	return out
}

func readParts(reader *gomail.Reader) (string, string, []record.Attachment) {
	var plain, html string
	var attachments []record.Attachment

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}

		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			mediaType, _, err := header.ContentType()
			if err != nil || mediaType == "" {
				mediaType = "text/plain"
			}
			mediaType = strings.ToLower(mediaType)
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/plain"):
				if plain == "" {
					plain = string(body)
				}
			case strings.HasPrefix(mediaType, "text/html"):
				if html == "" {
					html = string(body)
				}
			}
		case *gomail.AttachmentHeader:
			attachments = append(attachments, readAttachment(part, header))
		}
	}

	return plain, html, attachments
}

func readAttachment(part *gomail.Part, header *gomail.AttachmentHeader) record.Attachment {
	filename, err := header.Filename()
	if err != nil || strings.TrimSpace(filename) == "" {
		filename = "attachment"
	}
	mediaType, _, err := header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "application/octet-stream"
	}
	size, _ := io.Copy(io.Discard, part.Body)

	return record.Attachment{
		Filename:    filename,
		ContentType: strings.ToLower(mediaType),
		Size:        size,
		HasContent:  size > 0,
	}
}
