package intake

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	stdmail "net/mail"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"mailroute/internal/constants"
	"mailroute/internal/logger"
	"mailroute/internal/record"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/metrics"
)

const unknownRecipient = "unknown@localhost"

const emailColumns = `
	g.em_id,
	g.headers::text,
	g.json_object::text,
	m.email_message_id,
	m.has_attachment,
	m.from_address,
	m.time_received,
	m.subject,
	m.body`

// PostgresSource reads stored Gmail messages from the email_gmail and
// email_message_general tables of one schema.
type PostgresSource struct {
	db     *sql.DB
	schema string
	logger logger.Logger

	mu     sync.Mutex
	cursor int64
}

func ValidSchemaName(schema string) bool {
	if schema == "" {
		return false
	}
	for _, c := range schema {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func NewPostgresSource(db *sql.DB, schema string, log logger.Logger) (*PostgresSource, error) {
	if !ValidSchemaName(schema) {
		return nil, apperrors.ErrConfiguration.WithMessage(
			"invalid schema name %q: only letters, digits and underscores are allowed", schema)
	}
	return &PostgresSource{db: db, schema: schema, logger: log}, nil
}

func (s *PostgresSource) Name() string {
	return constants.IntakeSourcePostgres
}

func (s *PostgresSource) query(where, tail string) string {
	schema := pq.QuoteIdentifier(s.schema)
	q := fmt.Sprintf("SELECT %s\nFROM %s.email_gmail g\nINNER JOIN %s.email_message_general m ON g.em_id = m.em_id",
		emailColumns, schema, schema)
	if where != "" {
		q += "\nWHERE " + where
	}
	if tail != "" {
		q += "\n" + tail
	}
	return q
}

// FetchAll returns up to limit messages; limit <= 0 means no limit.
func (s *PostgresSource) FetchAll(ctx context.Context, limit int) ([]record.Record, error) {
	if limit > 0 {
		return s.fetch(ctx, "fetch_all", s.query("", "ORDER BY g.em_id LIMIT $1"), limit)
	}
	return s.fetch(ctx, "fetch_all", s.query("", "ORDER BY g.em_id"))
}

func (s *PostgresSource) FetchByEmailID(ctx context.Context, emailID int64) ([]record.Record, error) {
	return s.fetch(ctx, "fetch_by_email_id", s.query("m.email_id = $1", "ORDER BY g.em_id"), emailID)
}

// FetchSince returns messages with em_id greater than afterID in id order.
func (s *PostgresSource) FetchSince(ctx context.Context, afterID int64, limit int) ([]record.Record, int64, error) {
	if limit <= 0 {
		limit = constants.DefaultIntakeLimit
	}
	rows, err := s.fetchRows(ctx, "fetch_since", s.query("g.em_id > $1", "ORDER BY g.em_id LIMIT $2"), afterID, limit)
	if err != nil {
		return nil, afterID, err
	}

	last := afterID
	records := s.mapRows(ctx, rows)
	for _, row := range rows {
		if row.EmID > last {
			last = row.EmID
		}
	}
	return records, last, nil
}

// Fetch returns the next batch after the source's cursor and advances it.
func (s *PostgresSource) Fetch(ctx context.Context, limit int) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, last, err := s.FetchSince(ctx, s.cursor, limit)
	if err != nil {
		return nil, err
	}
	s.cursor = last
	return records, nil
}

func (s *PostgresSource) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *PostgresSource) SetCursor(id int64) {
	s.mu.Lock()
	s.cursor = id
	s.mu.Unlock()
}

func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresSource) fetch(ctx context.Context, op, query string, args ...interface{}) ([]record.Record, error) {
	rows, err := s.fetchRows(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}
	return s.mapRows(ctx, rows), nil
}

func (s *PostgresSource) fetchRows(ctx context.Context, op, query string, args ...interface{}) ([]emailRow, error) {
	start := time.Now()
	defer func() { metrics.ObserveDatabaseQuery(op, time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch emails: %w", err)
	}
	defer rows.Close()

	var out []emailRow
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		var row emailRow
		if err := rows.Scan(
			&row.EmID, &row.Headers, &row.JSONObject, &row.MessageID, &row.HasAttachment,
			&row.FromAddress, &row.TimeReceived, &row.Subject, &row.Body,
		); err != nil {
			return nil, fmt.Errorf("failed to scan email row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate email rows: %w", err)
	}

	s.logger.InfowCtx(ctx, "Fetched emails from database", "count", len(out), "operation", op)
	return out, nil
}

func (s *PostgresSource) mapRows(ctx context.Context, rows []emailRow) []record.Record {
	now := time.Now()
	records := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord(now)
		if err != nil {
			metrics.IncIntakeRecords(constants.IntakeSourcePostgres, false)
			s.logger.ErrorwCtx(ctx, "Failed to map email row", "em_id", row.EmID, "error", err)
			continue
		}
		metrics.IncIntakeRecords(constants.IntakeSourcePostgres, true)
		records = append(records, rec)
	}
	return records
}

type emailRow struct {
	EmID          int64
	Headers       sql.NullString
	JSONObject    sql.NullString
	MessageID     sql.NullString
	HasAttachment sql.NullBool
	FromAddress   sql.NullString
	TimeReceived  sql.NullTime
	Subject       sql.NullString
	Body          sql.NullString
}

// toRecord maps a stored row. Recipients come from the To/Cc/Bcc headers,
// then from the Gmail JSON object, and default to unknown@localhost.
// Attachment contents are not stored in these tables.
func (row emailRow) toRecord(now time.Time) (record.Record, error) {
	rec := record.Record{
		Subject:    row.Subject.String,
		BodyText:   row.Body.String,
		Sender:     row.FromAddress.String,
		MessageID:  strings.TrimSpace(row.MessageID.String),
		ReceivedAt: now,
		Priority:   record.PriorityNormal,
		Headers:    map[string]string{},
	}
	if rec.MessageID == "" {
		rec.MessageID = fmt.Sprintf("<db-%d@localhost>", row.EmID)
	}
	if row.TimeReceived.Valid {
		rec.ReceivedAt = row.TimeReceived.Time
	}

	if row.Headers.Valid && row.Headers.String != "" {
		headers, err := decodeHeaders(row.Headers.String)
		if err != nil {
			return record.Record{}, apperrors.ErrRecordProcessing.WithCause(err).
				WithMessage("invalid headers for em_id %d", row.EmID)
		}
		rec.Headers = headers
	}

	rec.Recipients = splitAddresses(headerValue(rec.Headers, "To"))
	rec.CC = splitAddresses(headerValue(rec.Headers, "Cc"))
	rec.BCC = splitAddresses(headerValue(rec.Headers, "Bcc"))
	if date := headerValue(rec.Headers, "Date"); date != "" {
		if sent, err := stdmail.ParseDate(date); err == nil {
			rec.SentAt = &sent
		}
	}

	if len(rec.Recipients) == 0 && row.JSONObject.Valid && row.JSONObject.String != "" {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(row.JSONObject.String), &obj); err == nil {
			rec.Recipients = addressValue(obj["to"])
			if cc := addressValue(obj["cc"]); len(cc) > 0 {
				rec.CC = cc
			}
			if bcc := addressValue(obj["bcc"]); len(bcc) > 0 {
				rec.BCC = bcc
			}
		}
	}
	if len(rec.Recipients) == 0 {
		rec.Recipients = []string{unknownRecipient}
	}

	return rec, nil
}

// decodeHeaders accepts a JSON object of header values. Non-string values
// are kept in their JSON form.
func decodeHeaders(raw string) (map[string]string, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			headers[k] = val
		case nil:
		default:
			b, _ := json.Marshal(val)
			headers[k] = string(b)
		}
	}
	return headers, nil
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	return headers[strings.ToLower(key)]
}

func addressValue(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return splitAddresses(val)
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
