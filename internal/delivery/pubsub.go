package delivery

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// Endpoint points the client at an emulator.
	Endpoint string `mapstructure:"endpoint"`
}

// PubSubSender publishes to the Google Cloud Pub/Sub topic named by the queue
// target. Topic handles are cached since each one owns a publish scheduler.
type PubSubSender struct {
	client *pubsub.Client
	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPubSubSender(ctx context.Context, cfg PubSubConfig, extra ...option.ClientOption) (*PubSubSender, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	opts = append(opts, extra...)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &PubSubSender{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (s *PubSubSender) topic(name string, ordered bool) *pubsub.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[name]
	if !ok {
		t = s.client.Topic(name)
		t.EnableMessageOrdering = ordered
		s.topics[name] = t
	}
	return t
}

func (s *PubSubSender) Send(ctx context.Context, q Queue, msg *Message) (string, error) {
	t := s.topic(q.Target, q.FIFO)

	pm := &pubsub.Message{
		Data:       msg.Body,
		Attributes: msg.StringAttributes(),
	}
	if q.FIFO {
		pm.OrderingKey = msg.GroupID
	}

	id, err := t.Publish(ctx, pm).Get(ctx)
	if err != nil {
		if q.FIFO {
			t.ResumePublish(msg.GroupID)
		}
		return "", fmt.Errorf("failed to publish to %s: %w", q.Target, err)
	}
	return id, nil
}

func (s *PubSubSender) Probe(ctx context.Context, q Queue) error {
	exists, err := s.topic(q.Target, q.FIFO).Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("topic %s does not exist", q.Target)
	}
	return nil
}

func (s *PubSubSender) Close() error {
	s.mu.Lock()
	for _, t := range s.topics {
		t.Stop()
	}
	s.topics = make(map[string]*pubsub.Topic)
	s.mu.Unlock()
	return s.client.Close()
}
