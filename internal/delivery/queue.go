package delivery

import (
	"strings"

	apperrors "mailroute/pkg/errors"
)

type Backend string

const (
	BackendSQS    Backend = "sqs"
	BackendSNS    Backend = "sns"
	BackendKafka  Backend = "kafka"
	BackendRedis  Backend = "redis"
	BackendAMQP   Backend = "amqp"
	BackendPubSub Backend = "pubsub"
	BackendLog    Backend = "log"
)

// DefaultMaxMessageSize is the SQS payload limit.
const DefaultMaxMessageSize = 262144

func (b Backend) Valid() bool {
	switch b {
	case BackendSQS, BackendSNS, BackendKafka, BackendRedis, BackendAMQP, BackendPubSub, BackendLog:
		return true
	}
	return false
}

// QueueDefinition is the declarative form of an output queue as it appears in
// configuration files. Target is backend specific: a queue URL for sqs, a
// topic ARN for sns, a topic for kafka and pubsub, a stream key for redis and
// "exchange/routing-key" or a queue name for amqp.
type QueueDefinition struct {
	Name           string `json:"name" yaml:"name" mapstructure:"name"`
	Backend        string `json:"backend,omitempty" yaml:"backend,omitempty" mapstructure:"backend"`
	Target         string `json:"target,omitempty" yaml:"target,omitempty" mapstructure:"target"`
	URL            string `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	Description    string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	MaxMessageSize int    `json:"max_message_size,omitempty" yaml:"max_message_size,omitempty" mapstructure:"max_message_size"`
	FIFO           bool   `json:"fifo,omitempty" yaml:"fifo,omitempty" mapstructure:"fifo"`
}

type Queue struct {
	Name           string
	Backend        Backend
	Target         string
	Description    string
	MaxMessageSize int
	FIFO           bool
}

// ToQueue validates the definition and fills defaults. The backend defaults
// to sqs; url is accepted as an alias for target.
func (d QueueDefinition) ToQueue() (Queue, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return Queue{}, apperrors.ErrConfiguration.WithMessage("queue definition has no name")
	}

	backend := Backend(strings.ToLower(strings.TrimSpace(d.Backend)))
	if backend == "" {
		backend = BackendSQS
	}
	if !backend.Valid() {
		return Queue{}, apperrors.ErrConfiguration.
			WithMessage("queue %q has unknown backend %q", name, d.Backend).
			WithDetail("queue", name)
	}

	target := strings.TrimSpace(d.Target)
	if target == "" {
		target = strings.TrimSpace(d.URL)
	}
	if target == "" && backend != BackendLog {
		return Queue{}, apperrors.ErrConfiguration.
			WithMessage("queue %q has no target", name).
			WithDetail("queue", name)
	}

	if d.MaxMessageSize < 0 {
		return Queue{}, apperrors.ErrConfiguration.
			WithMessage("queue %q has negative max_message_size", name).
			WithDetail("queue", name)
	}
	maxSize := d.MaxMessageSize
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}

	fifo := d.FIFO
	if (backend == BackendSQS || backend == BackendSNS) && strings.HasSuffix(target, ".fifo") {
		fifo = true
	}

	return Queue{
		Name:           name,
		Backend:        backend,
		Target:         target,
		Description:    d.Description,
		MaxMessageSize: maxSize,
		FIFO:           fifo,
	}, nil
}

func (q Queue) Definition() QueueDefinition {
	return QueueDefinition{
		Name:           q.Name,
		Backend:        string(q.Backend),
		Target:         q.Target,
		Description:    q.Description,
		MaxMessageSize: q.MaxMessageSize,
		FIFO:           q.FIFO,
	}
}
