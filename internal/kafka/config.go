// Package kafka wraps the confluent Kafka client for publishing JSON events.
package kafka

import (
	"fmt"
	"os"
	"strings"

	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Config holds Kafka configuration
type Config struct {
	Brokers           string
	EmailEventsTopic  string
	EmailDLQTopic     string
	ConsumerGroup     string
	EnableIdempotence bool
	Acks              string
}

// LoadConfig loads Kafka configuration from environment variables
func LoadConfig() (*Config, error) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS environment variable is required")
	}

	return &Config{
		Brokers:           brokers,
		EmailEventsTopic:  envOr("KAFKA_TOPIC_EMAIL_EVENTS", "email-events"),
		EmailDLQTopic:     envOr("KAFKA_TOPIC_EMAIL_DLQ", "email-events-dlq"),
		ConsumerGroup:     envOr("KAFKA_CONSUMER_GROUP", "email-service-group"),
		EnableIdempotence: true,
		Acks:              "all",
	}, nil
}

// GetBrokersList returns brokers as a slice
func (c *Config) GetBrokersList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ProducerConfigMap returns librdkafka settings for an idempotent producer
func (c *Config) ProducerConfigMap() *ckafka.ConfigMap {
	return &ckafka.ConfigMap{
		"bootstrap.servers":                     strings.Join(c.GetBrokersList(), ","),
		"enable.idempotence":                    c.EnableIdempotence,
		"acks":                                  c.Acks,
		"max.in.flight.requests.per.connection": 5,
		"retries":                               2147483647,
	}
}

// ConsumerConfigMap returns librdkafka settings for a manually committing consumer
func (c *Config) ConsumerConfigMap() *ckafka.ConfigMap {
	return &ckafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.GetBrokersList(), ","),
		"group.id":           c.ConsumerGroup,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
