// Package events publishes the turn journal to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-turn-client/internal/observability/metrics"
)

// Publisher publishes user and assistant turn events to separate Kafka topics.
type Publisher struct {
	writerUser      *kafka.Writer
	writerAssistant *kafka.Writer
	principal       string
	topicUser       string
	topicAssistant  string
	enabled         bool
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicUser      string
	TopicAssistant string
	Principal      string
	Enabled        bool
}

// New creates a publisher. Without brokers, or when disabled, events are only logged.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicUser:      cfg.TopicUser,
			topicAssistant: cfg.TopicAssistant,
			enabled:        false,
			metrics:        m,
		}
	}

	// longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerUser := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicUser,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	writerAssistant := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicAssistant,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicUser", cfg.TopicUser).
		Str("topicAssistant", cfg.TopicAssistant).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerUser:      writerUser,
		writerAssistant: writerAssistant,
		principal:       cfg.Principal,
		topicUser:       cfg.TopicUser,
		topicAssistant:  cfg.TopicAssistant,
		enabled:         true,
		metrics:         m,
	}
}

// PublishUserTurn publishes a committed user turn to the user topic.
func (p *Publisher) PublishUserTurn(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerUser, p.topicUser, "user", key, event)
}

// PublishAssistantTurn publishes a finished assistant turn to the assistant topic.
func (p *Publisher) PublishAssistantTurn(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerAssistant, p.topicAssistant, "assistant", key, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	// Log the event
	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	// Publish to Kafka
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Enabled reports whether events are written to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerUser != nil {
		if e := p.writerUser.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing user turn writer")
			err = e
		}
	}
	if p.writerAssistant != nil {
		if e := p.writerAssistant.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing assistant turn writer")
			err = e
		}
	}
	return err
}
