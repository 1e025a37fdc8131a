package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaDialTimeout  = 5 * time.Second
)

const (
	DefaultInputTopic        = "inbound_records"
	DefaultConfigUpdateTopic = "routing_config_updates"
)

const (
	ServiceName = "mailroute"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultReloadInterval = 60 * time.Second
	DefaultIntakeLimit    = 100
)

const (
	IntakeSourceKafka    = "kafka"
	IntakeSourcePostgres = "postgres"
	IntakeSourceFile     = "file"
	IntakeSourceAPI      = "api"
)

const (
	HeaderDeliveryID = "delivery_id"
	HeaderMessageID  = "message_id"
	HeaderQueue      = "queue"
)

const (
	CacheKeyPrefixDedup = "mailroute:dedup:"
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)
