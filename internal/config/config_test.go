package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/internal/delivery"
	"mailroute/internal/routing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "default", cfg.Routing.DefaultQueue)
	assert.Equal(t, "UTC", cfg.Routing.Timezone)
	assert.Equal(t, 60, cfg.Routing.Reload.IntervalSeconds)
	assert.Equal(t, 3, cfg.Delivery.Router.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Delivery.Router.Retry.InitialInterval)
	assert.True(t, cfg.Delivery.Router.CircuitBreaker.Enabled)
	assert.Equal(t, "inbound_records", cfg.Intake.Kafka.InputTopic)
	assert.False(t, cfg.Intake.Postgres.Enabled())
	assert.False(t, cfg.Intake.Dedup.Enabled)
	assert.Equal(t, 86400, cfg.Intake.Dedup.TTLSeconds)
	assert.Equal(t, "allow", cfg.Intake.Dedup.OnRedisError)
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 9090
routing:
  default_queue: fallback
  timezone: Europe/Berlin
  rules:
    - name: urgent
      condition: priority == 'urgent'
      action: high_priority
      priority: 100
  queues:
    - name: high_priority
      backend: log
`)
	t.Setenv("INTAKE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("ROUTING_INTERNAL_DOMAINS", "example.com,corp.example.com")
	t.Setenv("LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "fallback", cfg.Routing.DefaultQueue)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Intake.Kafka.Brokers)
	assert.Equal(t, []string{"example.com", "corp.example.com"}, cfg.Routing.InternalDomains)

	require.Len(t, cfg.Routing.Rules, 1)
	assert.Equal(t, "urgent", cfg.Routing.Rules[0].Name)
	assert.Equal(t, 100, cfg.Routing.Rules[0].Priority)
	require.Len(t, cfg.Routing.Queues, 1)
	assert.Equal(t, "log", cfg.Routing.Queues[0].Backend)

	loc, err := cfg.Routing.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateStatic(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"empty default queue", func(c *Config) { c.Routing.DefaultQueue = "" }, "routing.default_queue"},
		{"bad timezone", func(c *Config) { c.Routing.Timezone = "Mars/Olympus" }, "routing.timezone"},
		{"kafka without brokers", func(c *Config) {
			c.Intake.Kafka.Enabled = true
			c.Intake.Kafka.Brokers = nil
		}, "intake.kafka"},
		{"schedule without postgres", func(c *Config) { c.Intake.Schedule.Enabled = true }, "intake.schedule"},
		{"bad cron spec", func(c *Config) {
			c.Intake.Postgres.Host = "localhost"
			c.Intake.Postgres.DBName = "mail"
			c.Intake.Postgres.User = "mail"
			c.Intake.Schedule.Enabled = true
			c.Intake.Schedule.Spec = "every now and then"
		}, "intake.schedule.spec"},
		{"dedup without redis", func(c *Config) { c.Intake.Dedup.Enabled = true }, "intake.dedup.enabled"},
		{"dedup bad policy", func(c *Config) {
			c.Delivery.Redis.Host = "localhost"
			c.Intake.Dedup.Enabled = true
			c.Intake.Dedup.OnRedisError = "retry"
		}, "intake.dedup.on_redis_error"},
		{"dedup bad algorithm", func(c *Config) {
			c.Delivery.Redis.Host = "localhost"
			c.Intake.Dedup.Enabled = true
			c.Intake.Dedup.HashAlgorithm = "crc32"
		}, "intake.dedup.hash_algorithm"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.otlp.endpoint"},
		{"tracing bad sampler", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.OTLP.Endpoint = "localhost:4317"
			c.Tracing.Sampler = TracingSamplerConfig{Type: "ratio", Ratio: 2}
		}, "tracing.sampler"},
		{"short jwt secret", func(c *Config) {
			c.Management.Auth.Enabled = true
			c.Management.Auth.JWTSecret = "short"
		}, "management.auth.jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateStatic(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRuleFile_RoundTripFormats(t *testing.T) {
	enabled := false
	file := &RuleFile{
		DefaultQueue: "default",
		Rules: []routing.RuleDefinition{
			{Name: "support", Condition: "contains(subject, 'help')", Action: "support", Priority: 80},
			{Name: "off", Condition: "true", Action: "default", Enabled: &enabled},
		},
		Queues: []delivery.QueueDefinition{{Name: "support", Backend: "log"}},
	}

	for _, format := range []string{FormatYAML, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			data, err := EncodeRuleFile(file, format)
			require.NoError(t, err)

			decoded, err := DecodeRuleFile(data, format)
			require.NoError(t, err)
			assert.Equal(t, file.DefaultQueue, decoded.DefaultQueue)
			require.Len(t, decoded.Rules, 2)
			assert.Equal(t, "support", decoded.Rules[0].Name)
			assert.Equal(t, 80, decoded.Rules[0].Priority)
			assert.Nil(t, decoded.Rules[0].Enabled)
			require.NotNil(t, decoded.Rules[1].Enabled)
			assert.False(t, *decoded.Rules[1].Enabled)
			assert.Equal(t, "log", decoded.Queues[0].Backend)
		})
	}
}

func TestReadRuleFile(t *testing.T) {
	jsonPath := writeFile(t, "rules.json", `{"rules":[{"name":"a","condition":"true","action":"q"}]}`)
	file, err := ReadRuleFile(jsonPath)
	require.NoError(t, err)
	require.Len(t, file.Rules, 1)
	assert.Equal(t, "a", file.Rules[0].Name)

	yamlPath := writeFile(t, "rules.yml", "rules:\n  - name: b\n    condition: 'true'\n    action: q\n")
	file, err = ReadRuleFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "b", file.Rules[0].Name)

	badPath := writeFile(t, "rules.json", `{"rules": [`)
	_, err = ReadRuleFile(badPath)
	require.Error(t, err)

	_, err = ReadRuleFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestRoutingTable(t *testing.T) {
	inline := RoutingConfig{
		DefaultQueue: "default",
		Rules:        []routing.RuleDefinition{{Name: "inline", Condition: "true", Action: "default"}},
		Queues:       []delivery.QueueDefinition{{Name: "default", Backend: "log"}},
	}
	table, err := inline.RoutingTable()
	require.NoError(t, err)
	assert.Equal(t, "inline", table.Rules[0].Name)

	withFile := inline
	withFile.RulesFile = writeFile(t, "rules.yaml", "rules:\n  - name: from_file\n    condition: 'true'\n    action: default\n")
	table, err = withFile.RoutingTable()
	require.NoError(t, err)
	require.Len(t, table.Rules, 1)
	assert.Equal(t, "from_file", table.Rules[0].Name)
	assert.Equal(t, "default", table.DefaultQueue)
	assert.Len(t, table.Queues, 1)
}

func TestSampleConfig(t *testing.T) {
	for _, format := range []string{FormatYAML, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			data, err := SampleConfig(format)
			require.NoError(t, err)

			path := writeFile(t, "config."+format, string(data))
			cfg, err := LoadConfig(path)
			require.NoError(t, err)

			assert.Len(t, cfg.Routing.Queues, 4)
			names := make([]string, 0, len(cfg.Routing.Rules))
			for _, r := range cfg.Routing.Rules {
				names = append(names, r.Name)
			}
			assert.ElementsMatch(t, []string{
				"urgent_emails", "after_hours_urgent", "support_emails", "sales_inquiries", "large_attachments",
			}, names)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("toml")
	require.Error(t, err)
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, User: "mail", Password: "p@ss word", DBName: "email_db"}
	assert.Equal(t, "postgres://mail:p%40ss%20word@db:5432/email_db?sslmode=disable", cfg.DSN())
	assert.True(t, cfg.Enabled())
	assert.False(t, PostgresConfig{}.Enabled())
}
