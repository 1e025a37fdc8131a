package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mailroute/internal/constants"
)

// LoadConfig reads configFile (YAML) with environment overrides. An empty
// configFile falls back to CONFIG_FILE and then to defaults plus environment.
// A .env file in the working directory is loaded first when present.
func LoadConfig(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	viper.Reset()
	setDefaults()

	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 15)
	viper.SetDefault("server.write_timeout_seconds", 15)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("routing.default_queue", "default")
	viper.SetDefault("routing.timezone", "UTC")
	viper.SetDefault("routing.workers", 1)
	viper.SetDefault("routing.reload.interval_seconds", int(constants.DefaultReloadInterval.Seconds()))

	viper.SetDefault("delivery.retry.max_attempts", 3)
	viper.SetDefault("delivery.retry.initial_interval", "200ms")
	viper.SetDefault("delivery.retry.max_interval", "5s")
	viper.SetDefault("delivery.retry.multiplier", 2.0)
	viper.SetDefault("delivery.retry.max_elapsed_time", "30s")
	viper.SetDefault("delivery.circuit_breaker.enabled", true)
	viper.SetDefault("delivery.circuit_breaker.max_requests", 3)
	viper.SetDefault("delivery.circuit_breaker.interval", "60s")
	viper.SetDefault("delivery.circuit_breaker.timeout", "30s")
	viper.SetDefault("delivery.circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("delivery.circuit_breaker.min_requests", 5)
	viper.SetDefault("delivery.probe_timeout", "5s")
	viper.SetDefault("delivery.aws.region", "us-east-1")

	viper.SetDefault("intake.kafka.input_topic", constants.DefaultInputTopic)
	viper.SetDefault("intake.kafka.config_update_topic", constants.DefaultConfigUpdateTopic)
	viper.SetDefault("intake.kafka.retry.max_attempts", 3)
	viper.SetDefault("intake.kafka.retry.initial_interval", "1s")
	viper.SetDefault("intake.kafka.retry.max_interval", "30s")
	viper.SetDefault("intake.kafka.retry.multiplier", 2.0)
	viper.SetDefault("intake.postgres.port", 5432)
	viper.SetDefault("intake.postgres.sslmode", "disable")
	viper.SetDefault("intake.postgres.schema", "email_messages")
	viper.SetDefault("intake.schedule.spec", "@every 1m")
	viper.SetDefault("intake.schedule.batch_size", constants.DefaultIntakeLimit)
	viper.SetDefault("intake.dedup.hash_algorithm", "sha256")
	viper.SetDefault("intake.dedup.ttl_seconds", 86400)
	viper.SetDefault("intake.dedup.on_redis_error", constants.FallbackAllow)

	viper.SetDefault("management.enabled", true)
	viper.SetDefault("management.rate_limit.rps", 10.0)
	viper.SetDefault("management.rate_limit.burst", 20)
	viper.SetDefault("management.rate_limit.cleanup_interval", 60)
	viper.SetDefault("management.rate_limit.max_age", 300)

	viper.SetDefault("tracing.service_name", constants.ServiceName)
}

func bindEnvVariables() {
	viper.BindEnv("intake.kafka.enabled", "INTAKE_KAFKA_ENABLED")
	viper.BindEnv("intake.kafka.brokers", "INTAKE_KAFKA_BROKERS")
	viper.BindEnv("intake.kafka.group_id", "INTAKE_KAFKA_GROUP_ID")
	viper.BindEnv("intake.kafka.input_topic", "INTAKE_KAFKA_INPUT_TOPIC")
	viper.BindEnv("intake.kafka.config_update_topic", "INTAKE_KAFKA_CONFIG_UPDATE_TOPIC")
	viper.BindEnv("intake.kafka.dlq_topic", "INTAKE_KAFKA_DLQ_TOPIC")
	viper.BindEnv("intake.dedup.enabled", "INTAKE_DEDUP_ENABLED")

	viper.BindEnv("intake.postgres.host", "INTAKE_POSTGRES_HOST")
	viper.BindEnv("intake.postgres.port", "INTAKE_POSTGRES_PORT")
	viper.BindEnv("intake.postgres.user", "INTAKE_POSTGRES_USER")
	viper.BindEnv("intake.postgres.password", "INTAKE_POSTGRES_PASSWORD")
	viper.BindEnv("intake.postgres.dbname", "INTAKE_POSTGRES_DBNAME")
	viper.BindEnv("intake.postgres.sslmode", "INTAKE_POSTGRES_SSLMODE")
	viper.BindEnv("intake.postgres.schema", "INTAKE_POSTGRES_SCHEMA")

	viper.BindEnv("delivery.aws.region", "AWS_REGION")
	viper.BindEnv("delivery.aws.access_key_id", "AWS_ACCESS_KEY_ID")
	viper.BindEnv("delivery.aws.secret_access_key", "AWS_SECRET_ACCESS_KEY")
	viper.BindEnv("delivery.aws.session_token", "AWS_SESSION_TOKEN")
	viper.BindEnv("delivery.aws.endpoint", "DELIVERY_AWS_ENDPOINT")
	viper.BindEnv("delivery.kafka.brokers", "DELIVERY_KAFKA_BROKERS")
	viper.BindEnv("delivery.redis.host", "DELIVERY_REDIS_HOST")
	viper.BindEnv("delivery.redis.port", "DELIVERY_REDIS_PORT")
	viper.BindEnv("delivery.redis.password", "DELIVERY_REDIS_PASSWORD")
	viper.BindEnv("delivery.amqp.url", "DELIVERY_AMQP_URL")
	viper.BindEnv("delivery.pubsub.project_id", "DELIVERY_PUBSUB_PROJECT_ID")
	viper.BindEnv("delivery.pubsub.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	viper.BindEnv("delivery.pubsub.endpoint", "PUBSUB_EMULATOR_HOST")

	viper.BindEnv("routing.default_queue", "ROUTING_DEFAULT_QUEUE")
	viper.BindEnv("routing.timezone", "ROUTING_TIMEZONE")
	viper.BindEnv("routing.rules_file", "ROUTING_RULES_FILE")

	viper.BindEnv("management.auth.jwt_secret", "MANAGEMENT_AUTH_JWT_SECRET")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := os.Getenv("INTAKE_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := splitList(brokersEnv); len(brokers) > 0 {
			cfg.Intake.Kafka.Brokers = brokers
		}
	}

	if brokersEnv := os.Getenv("DELIVERY_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := splitList(brokersEnv); len(brokers) > 0 {
			cfg.Delivery.Kafka.Brokers = brokers
		}
	}

	if domains := os.Getenv("ROUTING_INTERNAL_DOMAINS"); domains != "" {
		cfg.Routing.InternalDomains = splitList(domains)
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}
