package delivery

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mailroute/internal/constants"
)

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// StreamMaxLen trims streams approximately to this length; 0 disables trimming.
	StreamMaxLen int64 `mapstructure:"stream_max_len"`
}

func (c RedisConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// RedisSender appends records to a Redis stream named by the queue target.
type RedisSender struct {
	client redis.UniversalClient
	maxLen int64
	owned  bool
}

func NewRedisSender(cfg RedisConfig) *RedisSender {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisSender{client: client, maxLen: cfg.StreamMaxLen, owned: true}
}

// NewRedisSenderWithClient uses an existing client; Close leaves it open.
func NewRedisSenderWithClient(client redis.UniversalClient, maxLen int64) *RedisSender {
	return &RedisSender{client: client, maxLen: maxLen}
}

func (s *RedisSender) Send(ctx context.Context, q Queue, msg *Message) (string, error) {
	values := map[string]interface{}{
		"body":                    string(msg.Body),
		constants.HeaderMessageID: msg.ID,
	}
	for k, v := range msg.StringAttributes() {
		values["attr_"+k] = v
	}

	args := &redis.XAddArgs{
		Stream: q.Target,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", q.Target, err)
	}
	return id, nil
}

func (s *RedisSender) Probe(ctx context.Context, _ Queue) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSender) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
