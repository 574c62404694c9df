package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Tickets  TicketConfig
	Group    GroupConfig
	Notify   NotifyConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:":8084"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
}

type DatabaseConfig struct {
	DSN          string        `envconfig:"POSTGRES_DSN" required:"true"`
	MaxOpenConns int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns int           `envconfig:"DB_MAX_IDLE_CONNS" default:"25"`
	MaxLifetime  time.Duration `envconfig:"DB_MAX_LIFETIME" default:"5m"`
	ConnectTries int           `envconfig:"DB_CONNECT_RETRIES" default:"5"`
	AutoMigrate  bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

type RedisConfig struct {
	Addr           string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	SettlementLock time.Duration `envconfig:"SETTLEMENT_LOCK_TTL" default:"30s"`
	EventDedupeTTL time.Duration `envconfig:"WEBHOOK_DEDUPE_TTL" default:"72h"`
}

type KafkaConfig struct {
	Brokers    []string    `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID    string      `envconfig:"KAFKA_GROUP_ID" default:"settlement-service"`
	Enabled    bool        `envconfig:"KAFKA_ENABLED" default:"true"`
	// MaxRetries bounds redeliveries of one payment event before it is skipped.
	MaxRetries uint64      `envconfig:"KAFKA_MAX_RETRIES" default:"10"`
	Topics     TopicConfig `ignored:"true"`
}

type TopicConfig struct {
	PaymentEvents  string `envconfig:"KAFKA_TOPIC_PAYMENT_EVENTS" default:"ticketly.payments.events"`
	TicketEmail    string `envconfig:"KAFKA_TOPIC_TICKET_EMAIL" default:"ticketly.tickets.email"`
	OrderCompleted string `envconfig:"KAFKA_TOPIC_ORDER_COMPLETED" default:"ticketly.order.completed"`
}

func (t TopicConfig) All() []string {
	return []string{t.PaymentEvents, t.TicketEmail, t.OrderCompleted}
}

type StripeConfig struct {
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	Currency      string `envconfig:"STRIPE_CURRENCY" default:"usd"`
}

// Signed reports whether inbound payment events must carry a valid signature.
func (s StripeConfig) Signed() bool {
	return strings.TrimSpace(s.WebhookSecret) != ""
}

type TicketConfig struct {
	HashSecret  string `envconfig:"TICKET_HASH_SECRET" required:"true"`
	DefaultPlan string `envconfig:"PRICING_PLAN" default:"starter"`
}

type GroupConfig struct {
	Expiry time.Duration `envconfig:"GROUP_ORDER_EXPIRY" default:"48h"`
}

type NotifyConfig struct {
	Workers     int           `envconfig:"NOTIFY_WORKERS" default:"4"`
	QueueSize   int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
	MaxAttempts int           `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"5"`
	MaxElapsed  time.Duration `envconfig:"NOTIFY_MAX_ELAPSED" default:"2m"`
}

type AuthConfig struct {
	OIDCIssuer string `envconfig:"OIDC_ISSUER"`
	DevSecret  string `envconfig:"AUTH_HS256_SECRET"`
}

func Load() (*Config, error) {
	var cfg Config
	sections := []interface{}{
		&cfg.Server, &cfg.Database, &cfg.Redis, &cfg.Kafka, &cfg.Kafka.Topics,
		&cfg.Stripe, &cfg.Tickets, &cfg.Group, &cfg.Notify, &cfg.Auth,
	}
	// sections are processed one by one so env names stay unprefixed
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if cfg.Auth.OIDCIssuer == "" && cfg.Auth.DevSecret == "" {
		return nil, fmt.Errorf("parsing config: one of OIDC_ISSUER or AUTH_HS256_SECRET must be set")
	}
	if cfg.Notify.Workers <= 0 {
		cfg.Notify.Workers = 1
	}
	return &cfg, nil
}
