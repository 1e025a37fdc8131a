package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mailroute/internal/constants"
	"mailroute/pkg/retry"
	"mailroute/pkg/tracing"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks settings that can be verified without connecting to
// anything. Rule and queue definitions are validated per entry at load time.
func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateRouting(cfg.Routing); err != nil {
		errors = append(errors, err)
	}

	if err := validateRetry("delivery.retry", cfg.Delivery.Router.Retry); err != nil {
		errors = append(errors, err)
	}

	if cfg.Intake.Kafka.Enabled {
		if err := validateKafka(cfg.Intake.Kafka); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Intake.Postgres.Enabled() {
		if err := validatePostgres(cfg.Intake.Postgres); err != nil {
			errors = append(errors, err)
		}
	}

	if err := validateSchedule(cfg.Intake); err != nil {
		errors = append(errors, err)
	}

	if err := validateDedup(cfg); err != nil {
		errors = append(errors, err)
	}

	if err := validateManagement(cfg.Management); err != nil {
		errors = append(errors, err)
	}

	if err := validateTracing(cfg.Tracing); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateRouting(cfg RoutingConfig) error {
	if strings.TrimSpace(cfg.DefaultQueue) == "" {
		return &ValidationError{
			Field:   "routing.default_queue",
			Message: "default queue is required",
		}
	}

	if _, err := time.LoadLocation(cfg.Timezone); cfg.Timezone != "" && err != nil {
		return &ValidationError{
			Field:   "routing.timezone",
			Message: fmt.Sprintf("unknown timezone %q", cfg.Timezone),
		}
	}

	if cfg.Workers < 0 {
		return &ValidationError{
			Field:   "routing.workers",
			Message: "workers must be non-negative",
		}
	}

	if cfg.Reload.IntervalSeconds < 0 {
		return &ValidationError{
			Field:   "routing.reload.interval_seconds",
			Message: "reload interval must be non-negative",
		}
	}

	return nil
}

func validateRetry(field string, p retry.Policy) error {
	if p.MaxAttempts < 0 {
		return &ValidationError{
			Field:   field + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if p.InitialInterval < 0 {
		return &ValidationError{
			Field:   field + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if p.MaxInterval < 0 {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if p.MaxInterval > 0 && p.InitialInterval > 0 && p.MaxInterval < p.InitialInterval {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if p.Multiplier < 0 {
		return &ValidationError{
			Field:   field + ".multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "intake.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("intake.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "intake.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	return validateRetry("intake.kafka.retry", cfg.Retry)
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "intake.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "intake.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "intake.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "intake.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateSchedule(cfg IntakeConfig) error {
	if !cfg.Schedule.Enabled {
		return nil
	}

	if !cfg.Postgres.Enabled() {
		return &ValidationError{
			Field:   "intake.schedule.enabled",
			Message: "scheduled intake requires intake.postgres",
		}
	}

	if _, err := cron.ParseStandard(cfg.Schedule.Spec); err != nil {
		return &ValidationError{
			Field:   "intake.schedule.spec",
			Message: fmt.Sprintf("invalid schedule %q: %v", cfg.Schedule.Spec, err),
		}
	}

	if cfg.Schedule.BatchSize <= 0 {
		return &ValidationError{
			Field:   "intake.schedule.batch_size",
			Message: "batch size must be positive",
		}
	}

	return nil
}

func validateDedup(cfg *Config) error {
	d := cfg.Intake.Dedup
	if !d.Enabled {
		return nil
	}

	if cfg.Delivery.Redis.Host == "" {
		return &ValidationError{
			Field:   "intake.dedup.enabled",
			Message: "duplicate filtering requires delivery.redis.host",
		}
	}

	if d.TTLSeconds <= 0 {
		return &ValidationError{
			Field:   "intake.dedup.ttl_seconds",
			Message: "ttl must be positive",
		}
	}

	switch d.HashAlgorithm {
	case "", "sha256", "md5":
	default:
		return &ValidationError{
			Field:   "intake.dedup.hash_algorithm",
			Message: fmt.Sprintf("unsupported hash algorithm %q (valid: sha256, md5)", d.HashAlgorithm),
		}
	}

	if d.OnRedisError != constants.FallbackAllow && d.OnRedisError != constants.FallbackDeny {
		return &ValidationError{
			Field:   "intake.dedup.on_redis_error",
			Message: fmt.Sprintf("must be %q or %q, got %q", constants.FallbackAllow, constants.FallbackDeny, d.OnRedisError),
		}
	}

	return nil
}

func validateManagement(cfg ManagementConfig) error {
	if cfg.Auth.Enabled && len(cfg.Auth.JWTSecret) < 32 {
		return &ValidationError{
			Field:   "management.auth.jwt_secret",
			Message: "JWT secret must be at least 32 characters",
		}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		return &ValidationError{
			Field:   "management.rate_limit",
			Message: "rps and burst must be positive when rate limiting is enabled",
		}
	}

	return nil
}

func validateTracing(cfg TracingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.OTLP.Endpoint == "" {
		return &ValidationError{
			Field:   "tracing.otlp.endpoint",
			Message: "OTLP endpoint is required when tracing is enabled",
		}
	}

	if _, err := tracing.NewSampler(cfg.Sampler); err != nil {
		return &ValidationError{
			Field:   "tracing.sampler",
			Message: err.Error(),
		}
	}

	return nil
}
