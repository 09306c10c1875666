// Package config loads runtime settings from defaults, an optional .env file, the process
// environment and explicit overrides, then resolves secret references and validates the result.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	StoreBackendMemory    = "memory"
	StoreBackendFirestore = "firestore"
	StoreBackendMySQL     = "mysql"

	EventsBackendNone   = "none"
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"

	IdempotencyBackendMemory    = "memory"
	IdempotencyBackendFirestore = "firestore"
	IdempotencyBackendRedis     = "redis"
)

var (
	defaultIssuers = []string{"https://accounts.google.com", "https://cloud.google.com/iap"}

	defaults = map[string]any{
		"API_SERVER_PORT":                  "8080",
		"API_SERVER_READ_TIMEOUT":          15 * time.Second,
		"API_SERVER_WRITE_TIMEOUT":         30 * time.Second,
		"API_SERVER_IDLE_TIMEOUT":          2 * time.Minute,
		"API_LOG_LEVEL":                    "info",
		"API_STORE_BACKEND":                StoreBackendMemory,
		"API_FIREBASE_CHECK_REVOKED":       false,
		"API_MYSQL_MAX_OPEN_CONNS":         20,
		"API_MYSQL_MAX_IDLE_CONNS":         5,
		"API_MYSQL_CONN_MAX_LIFETIME":      30 * time.Minute,
		"API_REDIS_DB":                     0,
		"API_EVENTS_BACKEND":               EventsBackendNone,
		"API_PUBSUB_ORDER_TOPIC":           "commerce.orders",
		"API_KAFKA_ORDER_TOPIC":            "commerce.orders",
		"API_SECURITY_ENVIRONMENT":         "local",
		"API_SECURITY_OIDC_JWKS_URL":       "https://www.googleapis.com/oauth2/v3/certs",
		"API_IDEMPOTENCY_BACKEND":          IdempotencyBackendMemory,
		"API_IDEMPOTENCY_HEADER":           "Idempotency-Key",
		"API_IDEMPOTENCY_TTL":              24 * time.Hour,
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": time.Hour,
		"API_IDEMPOTENCY_CLEANUP_BATCH":    200,
	}
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Store       StoreConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	MySQL       MySQLConfig
	Redis       RedisConfig
	Events      EventsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level string
}

// StoreConfig selects the repository backend: memory, firestore or mysql.
type StoreConfig struct {
	Backend string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked forces a revocation lookup on every verified ID token.
	CheckRevoked bool
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// MySQLConfig configures the relational backend. DSN may be a secret reference.
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects where order events go: none, pubsub or kafka.
type EventsConfig struct {
	Backend string
	PubSub  PubSubConfig
	Kafka   KafkaConfig
}

type PubSubConfig struct {
	ProjectID  string
	OrderTopic string
}

type KafkaConfig struct {
	Brokers    []string
	OrderTopic string
}

type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls verification of Google-signed service tokens. Audiences maps an environment
// name to the audience expected there; an explicit Audience wins.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Load builds the Config. Precedence, lowest first: defaults, the .env file, the process
// environment, WithEnvMap values. Secret references (secret:// or sm://) in MySQL.DSN and
// Redis.Password are resolved before validation.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := newSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT"),
			ReadTimeout:  src.GetDuration("API_SERVER_READ_TIMEOUT"),
			WriteTimeout: src.GetDuration("API_SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  src.GetDuration("API_SERVER_IDLE_TIMEOUT"),
		},
		Log:   LogConfig{Level: src.lower("API_LOG_LEVEL")},
		Store: StoreConfig{Backend: src.lower("API_STORE_BACKEND")},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID"),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE"),
			CheckRevoked:    src.GetBool("API_FIREBASE_CHECK_REVOKED"),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID"),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST"),
		},
		MySQL: MySQLConfig{
			DSN:             src.str("API_MYSQL_DSN"),
			MaxOpenConns:    src.GetInt("API_MYSQL_MAX_OPEN_CONNS"),
			MaxIdleConns:    src.GetInt("API_MYSQL_MAX_IDLE_CONNS"),
			ConnMaxLifetime: src.GetDuration("API_MYSQL_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Addr:     src.str("API_REDIS_ADDR"),
			Password: src.str("API_REDIS_PASSWORD"),
			DB:       src.GetInt("API_REDIS_DB"),
		},
		Events: EventsConfig{
			Backend: src.lower("API_EVENTS_BACKEND"),
			PubSub: PubSubConfig{
				ProjectID:  src.str("API_PUBSUB_PROJECT_ID"),
				OrderTopic: src.str("API_PUBSUB_ORDER_TOPIC"),
			},
			Kafka: KafkaConfig{
				Brokers:    src.list("API_KAFKA_BROKERS"),
				OrderTopic: src.str("API_KAFKA_ORDER_TOPIC"),
			},
		},
		Security: SecurityConfig{
			Environment: src.lower("API_SECURITY_ENVIRONMENT"),
			OIDC: OIDCConfig{
				JWKSURL:   src.str("API_SECURITY_OIDC_JWKS_URL"),
				Audience:  src.str("API_SECURITY_OIDC_AUDIENCE"),
				Audiences: src.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   src.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Backend:          src.lower("API_IDEMPOTENCY_BACKEND"),
			Header:           src.str("API_IDEMPOTENCY_HEADER"),
			TTL:              src.GetDuration("API_IDEMPOTENCY_TTL"),
			CleanupInterval:  src.GetDuration("API_IDEMPOTENCY_CLEANUP_INTERVAL"),
			CleanupBatchSize: src.GetInt("API_IDEMPOTENCY_CLEANUP_BATCH"),
		},
	}
	applyDerived(&cfg)

	resolved := make(map[string]string, 2)
	for _, secret := range []struct {
		name  string
		field *string
	}{
		{"MySQL.DSN", &cfg.MySQL.DSN},
		{"Redis.Password", &cfg.Redis.Password},
	} {
		value, err := resolveSecret(ctx, *secret.field, o.secret)
		if err != nil {
			return Config{}, err
		}
		*secret.field = value
		resolved[secret.name] = value
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(o.requiredSecrets, resolved); missing != nil {
		if o.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %v\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// applyDerived fills settings that default to other settings.
func applyDerived(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSub.ProjectID == "" {
		cfg.Events.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = append([]string(nil), defaultIssuers...)
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[strings.ToLower(cfg.Security.Environment)]
	}
}
