package config_handler

import (
	"context"
	"encoding/json"

	"mailroute/internal/broker"
	"mailroute/internal/logger"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/models"
)

const metadataOrigin = "origin"

type ConfigReloader interface {
	ReloadRules(ctx context.Context) error
}

// Handler reacts to routing config update events by reloading definitions.
// Events published by this instance (same origin) are ignored.
type Handler struct {
	eventTypes map[string]bool
	origin     string
	reloader   ConfigReloader
	logger     logger.Logger
}

func NewHandler(reloader ConfigReloader, origin string, log logger.Logger) *Handler {
	return &Handler{
		eventTypes: map[string]bool{
			models.EventTypeRoutingRulesUpdated: true,
			models.EventTypeQueuesUpdated:       true,
		},
		origin:   origin,
		reloader: reloader,
		logger:   log,
	}
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, msg broker.Message) error {
	var event models.ConfigUpdateEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to unmarshal config event", "error", err, "key", msg.Key)
		return apperrors.ErrValidation.WithCause(err).WithMessage("invalid config update event")
	}

	if event.EventType == "" {
		h.logger.WarnwCtx(ctx, "Config event missing event_type", "key", msg.Key)
		return nil
	}
	if !h.eventTypes[event.EventType] {
		return nil
	}
	if origin, _ := event.Metadata[metadataOrigin].(string); origin != "" && origin == h.origin {
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"rule_name", event.RuleName,
		"changed_by", event.ChangedBy,
	)

	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after config update", "error", err)
		return err
	}
	return nil
}
