package config

import (
	"fmt"
	"net/url"
	"time"

	"mailroute/internal/deduplication"
	"mailroute/internal/delivery"
	"mailroute/internal/routing"
	"mailroute/pkg/retry"
	"mailroute/pkg/tracing"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Delivery   delivery.Config  `mapstructure:"delivery"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	Management ManagementConfig `mapstructure:"management"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RoutingConfig struct {
	DefaultQueue    string   `mapstructure:"default_queue"`
	Timezone        string   `mapstructure:"timezone"`
	InternalDomains []string `mapstructure:"internal_domains"`
	Workers         int      `mapstructure:"workers"`
	// RulesFile, when set, is read instead of the inline rules and queues
	// and is re-read on every reload.
	RulesFile string                     `mapstructure:"rules_file"`
	Rules     []routing.RuleDefinition   `mapstructure:"rules"`
	Queues    []delivery.QueueDefinition `mapstructure:"queues"`
	Reload    ReloadConfig               `mapstructure:"reload"`
}

// Location resolves Timezone, defaulting to UTC.
func (c RoutingConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

type ReloadConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

type IntakeConfig struct {
	Kafka    KafkaConfig          `mapstructure:"kafka"`
	Postgres PostgresConfig       `mapstructure:"postgres"`
	Schedule ScheduleConfig       `mapstructure:"schedule"`
	Dedup    deduplication.Config `mapstructure:"dedup"`
}

type KafkaConfig struct {
	Enabled           bool         `mapstructure:"enabled"`
	Brokers           []string     `mapstructure:"brokers"`
	GroupID           string       `mapstructure:"group_id"`
	InputTopic        string       `mapstructure:"input_topic"`
	ConfigUpdateTopic string       `mapstructure:"config_update_topic"`
	DLQTopic          string       `mapstructure:"dlq_topic"`
	DryRun            bool         `mapstructure:"dry_run"`
	Retry             retry.Policy `mapstructure:"retry"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Schema   string `mapstructure:"schema"`
}

func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

type ScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Spec      string `mapstructure:"spec"`
	BatchSize int    `mapstructure:"batch_size"`
	DryRun    bool   `mapstructure:"dry_run"`
}

type ManagementConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type TracingConfig = tracing.Config

type TracingSamplerConfig = tracing.SamplerConfig

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
