package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError lists the config fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string { return slices.Clone(e.fields) }

type checker struct {
	fields []string
}

func (c *checker) require(ok bool, field string) {
	if !ok && !slices.Contains(c.fields, field) {
		c.fields = append(c.fields, field)
	}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func validate(cfg Config) error {
	var c checker
	c.require(!blank(cfg.Server.Port), "Server.Port")
	c.require(cfg.Server.ReadTimeout > 0, "Server.ReadTimeout")
	c.require(cfg.Server.WriteTimeout > 0, "Server.WriteTimeout")
	c.require(!blank(cfg.Firebase.ProjectID), "Firebase.ProjectID")

	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendFirestore:
		c.require(!blank(cfg.Firestore.ProjectID), "Firestore.ProjectID")
	case StoreBackendMySQL:
		c.require(!blank(cfg.MySQL.DSN), "MySQL.DSN")
		c.require(cfg.MySQL.MaxOpenConns > 0, "MySQL.MaxOpenConns")
	default:
		c.require(false, "Store.Backend")
	}

	switch cfg.Events.Backend {
	case EventsBackendNone:
	case EventsBackendPubSub:
		c.require(!blank(cfg.Events.PubSub.ProjectID), "Events.PubSub.ProjectID")
		c.require(!blank(cfg.Events.PubSub.OrderTopic), "Events.PubSub.OrderTopic")
	case EventsBackendKafka:
		c.require(len(cfg.Events.Kafka.Brokers) > 0, "Events.Kafka.Brokers")
		c.require(!blank(cfg.Events.Kafka.OrderTopic), "Events.Kafka.OrderTopic")
	default:
		c.require(false, "Events.Backend")
	}

	switch cfg.Idempotency.Backend {
	case IdempotencyBackendMemory:
	case IdempotencyBackendFirestore:
		c.require(!blank(cfg.Firestore.ProjectID), "Firestore.ProjectID")
	case IdempotencyBackendRedis:
		c.require(!blank(cfg.Redis.Addr), "Redis.Addr")
	default:
		c.require(false, "Idempotency.Backend")
	}
	c.require(!blank(cfg.Idempotency.Header), "Idempotency.Header")
	c.require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	c.require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	c.require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(c.fields) > 0 {
		return &ValidationError{fields: c.fields}
	}
	return nil
}
