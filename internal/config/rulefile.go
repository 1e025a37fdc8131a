package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"mailroute/internal/delivery"
	"mailroute/internal/routing"
	apperrors "mailroute/pkg/errors"
)

const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// RuleFile is the portable form of a routing table: the file read by
// routing.rules_file and written by rule export.
type RuleFile struct {
	DefaultQueue string                     `json:"default_queue,omitempty" yaml:"default_queue,omitempty"`
	Rules        []routing.RuleDefinition   `json:"rules" yaml:"rules"`
	Queues       []delivery.QueueDefinition `json:"queues,omitempty" yaml:"queues,omitempty"`
}

// FormatFromPath picks json for .json files and yaml otherwise.
func FormatFromPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

func ParseFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatYAML, "yml":
		return FormatYAML, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", apperrors.ErrValidation.WithMessage("unsupported format %q (use yaml or json)", format)
	}
}

func ReadRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.ErrConfiguration.WithCause(err).WithMessage("cannot read rule file %s", path)
	}
	return DecodeRuleFile(data, FormatFromPath(path))
}

func DecodeRuleFile(data []byte, format string) (*RuleFile, error) {
	var file RuleFile
	var err error
	if format == FormatJSON {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, apperrors.ErrConfiguration.WithCause(err).WithMessage("invalid %s rule file", format)
	}
	return &file, nil
}

func EncodeRuleFile(file *RuleFile, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(file); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

func WriteRuleFile(path string, file *RuleFile) error {
	data, err := EncodeRuleFile(file, FormatFromPath(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RoutingTable returns the rules, queues and default queue in effect: the
// rules file when configured, the inline definitions otherwise.
func (c RoutingConfig) RoutingTable() (*RuleFile, error) {
	if c.RulesFile == "" {
		return &RuleFile{
			DefaultQueue: c.DefaultQueue,
			Rules:        c.Rules,
			Queues:       c.Queues,
		}, nil
	}

	file, err := ReadRuleFile(c.RulesFile)
	if err != nil {
		return nil, err
	}
	if file.DefaultQueue == "" {
		file.DefaultQueue = c.DefaultQueue
	}
	if len(file.Queues) == 0 {
		file.Queues = c.Queues
	}
	return file, nil
}

// SampleConfig returns a starter configuration in the requested format.
func SampleConfig(format string) ([]byte, error) {
	if format != FormatJSON {
		return []byte(sampleConfigYAML), nil
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(sampleConfigYAML), &doc); err != nil {
		return nil, fmt.Errorf("sample config: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

const sampleConfigYAML = `server:
  port: 8080
  read_timeout_seconds: 15
  write_timeout_seconds: 15

logging:
  level: info
  format: json

routing:
  default_queue: default
  timezone: UTC
  internal_domains:
    - company.com
  workers: 4
  reload:
    interval_seconds: 60
  queues:
    - name: high_priority
      backend: sqs
      target: https://sqs.us-east-1.amazonaws.com/123456789012/high-priority
      description: Queue for high priority emails
    - name: support
      backend: sqs
      target: https://sqs.us-east-1.amazonaws.com/123456789012/support
      description: Queue for support-related emails
    - name: sales
      backend: sqs
      target: https://sqs.us-east-1.amazonaws.com/123456789012/sales
      description: Queue for sales inquiries
    - name: default
      backend: sqs
      target: https://sqs.us-east-1.amazonaws.com/123456789012/default
      description: Default queue for all other emails
  rules:
    - name: urgent_emails
      description: Route urgent emails to high priority queue
      condition: priority == 'urgent' or contains(subject, 'URGENT')
      action: high_priority
      priority: 100
      enabled: true
    - name: after_hours_urgent
      description: Route after-hours emails with urgent keywords
      condition: is_after_hours and (contains(subject, 'urgent') or contains(body_text, 'emergency'))
      action: high_priority
      priority: 90
      enabled: true
    - name: support_emails
      description: Route support emails based on subject keywords
      condition: contains(subject, 'help') or contains(subject, 'support') or contains(subject, 'issue')
      action: support
      priority: 80
      enabled: true
    - name: sales_inquiries
      description: Route sales inquiries to sales team
      condition: contains(subject, 'quote') or contains(subject, 'pricing') or contains(subject, 'sales')
      action: sales
      priority: 70
      enabled: true
    - name: large_attachments
      description: Route emails with large attachments to special processing
      condition: has_attachments and total_attachment_size > 10485760
      action: high_priority
      priority: 60
      enabled: true

delivery:
  retry:
    max_attempts: 3
    initial_interval: 200ms
    max_interval: 5s
    multiplier: 2
  circuit_breaker:
    enabled: true
    max_requests: 3
    interval: 60s
    timeout: 30s
    failure_ratio: 0.5
    min_requests: 5
  aws:
    region: us-east-1

intake:
  kafka:
    enabled: false
    brokers: ["localhost:9092"]
    group_id: mailroute
    input_topic: inbound_records
    config_update_topic: routing_config_updates
    dlq_topic: inbound_records_dlq
  postgres:
    host: ""
    port: 5432
    schema: email_messages
  schedule:
    enabled: false
    spec: "@every 1m"
    batch_size: 100
  dedup:
    enabled: false
    hash_algorithm: sha256
    ttl_seconds: 86400
    on_redis_error: allow
    fields: [message_id, sender]

management:
  enabled: true
  rate_limit:
    enabled: true
    rps: 10
    burst: 20
  auth:
    enabled: false
    jwt_secret: ""

tracing:
  enabled: false
  service_name: mailroute
  otlp:
    endpoint: localhost:4317
    insecure: true
  sampler:
    type: parent_ratio
    ratio: 0.1
`
