package models

import "time"

const MessageTypeEmailRouting = "email_routing"

// RoutedMessage is the JSON body written to every output queue.
type RoutedMessage struct {
	Record               interface{}            `json:"email_data"`
	Timestamp            time.Time              `json:"timestamp"`
	MessageType          string                 `json:"message_type"`
	Queue                string                 `json:"queue"`
	RoutedAt             time.Time              `json:"routed_at"`
	TraceID              string                 `json:"trace_id,omitempty"`
	AdditionalAttributes map[string]interface{} `json:"additional_attributes,omitempty"`
}
