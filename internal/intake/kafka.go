package intake

import (
	"context"

	"mailroute/internal/broker"
	"mailroute/internal/constants"
	"mailroute/internal/logger"
	"mailroute/internal/record"
	"mailroute/internal/routing"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/metrics"
	"mailroute/pkg/retry"
	"mailroute/pkg/tracing"
)

type RecordProcessor interface {
	Process(ctx context.Context, rec *record.Record, dryRun bool, extra map[string]interface{}) routing.ProcessingResult
}

// DuplicateFilter remembers records already routed so broker redeliveries
// are skipped.
type DuplicateFilter interface {
	Seen(ctx context.Context, rec *record.Record) (bool, error)
	Release(ctx context.Context, rec *record.Record) error
}

type KafkaHandlerOption func(*kafkaHandler)

func WithDuplicateFilter(f DuplicateFilter) KafkaHandlerOption {
	return func(h *kafkaHandler) {
		h.dedup = f
	}
}

type kafkaHandler struct {
	dedup DuplicateFilter
}

// KafkaRecordHandler routes JSON records read from Kafka. Message headers are
// exposed to conditions as attrs, minus trace propagation headers. Failures
// are returned fatal: delivery has already been retried by the router, so the
// consumer sends the message straight to its DLQ.
func KafkaRecordHandler(proc RecordProcessor, dryRun bool, log logger.Logger, opts ...KafkaHandlerOption) broker.HandlerFunc {
	h := &kafkaHandler{}
	for _, opt := range opts {
		opt(h)
	}

	return func(ctx context.Context, msg broker.Message) error {
		rec, err := record.FromJSON(msg.Value)
		if err != nil {
			metrics.IncIntakeRecords(constants.IntakeSourceKafka, false)
			log.WarnwCtx(ctx, "Rejected malformed record", "topic", msg.Topic, "error", err)
			return err
		}
		metrics.IncIntakeRecords(constants.IntakeSourceKafka, true)

		// Dry runs have no side effects, so they are never marked as seen.
		dedup := h.dedup != nil && !dryRun
		if dedup {
			seen, err := h.dedup.Seen(ctx, &rec)
			if err != nil {
				return err
			}
			if seen {
				log.InfowCtx(ctx, "Skipped duplicate record", "topic", msg.Topic, "message_id", rec.MessageID)
				return nil
			}
		}

		result := proc.Process(ctx, &rec, dryRun, headerAttrs(msg))
		if !result.Success {
			if dedup {
				if err := h.dedup.Release(ctx, &rec); err != nil {
					log.WarnwCtx(ctx, "Failed to release dedup key", "message_id", rec.MessageID, "error", err)
				}
			}
			err := result.Err()
			if err == nil {
				err = apperrors.ErrRecordProcessing.WithMessage("%s", result.Error)
			}
			return retry.NewFatalError(err)
		}

		log.DebugwCtx(ctx, "Routed record from Kafka",
			"topic", msg.Topic,
			"queue", result.Queue,
			"matched_rules", result.MatchedRules,
			"dry_run", dryRun,
		)
		return nil
	}
}

func headerAttrs(msg broker.Message) map[string]interface{} {
	attrs := map[string]interface{}{
		"source": constants.IntakeSourceKafka,
		"topic":  msg.Topic,
	}
	for k, v := range msg.Headers {
		if tracing.IsPropagationHeader(k) {
			continue
		}
		attrs[k] = v
	}
	return attrs
}
