// Package events publishes recording and pipeline events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/schema"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes recording state and pipeline stage events to separate topics.
type Publisher struct {
	writerRecording messageWriter
	writerStage     messageWriter
	principal       string
	topicRecording  string
	topicStage      string
	enabled         bool
	validator       *schema.Validator
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicRecording string
	TopicStage     string
	Principal      string
	Enabled        bool
}

// New creates a Kafka event publisher. A nil or disabled config yields a log-only publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			validator: v,
			metrics:   m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicRecording: cfg.TopicRecording,
			topicStage:     cfg.TopicStage,
			enabled:        false,
			validator:      v,
			metrics:        m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicRecording", cfg.TopicRecording).
		Str("topicStage", cfg.TopicStage).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerRecording: newWriter(cfg.Brokers, cfg.TopicRecording, transport),
		writerStage:     newWriter(cfg.Brokers, cfg.TopicStage, transport),
		principal:       cfg.Principal,
		topicRecording:  cfg.TopicRecording,
		topicStage:      cfg.TopicStage,
		enabled:         true,
		validator:       v,
		metrics:         m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishRecordingState publishes a session state change keyed by session id, so
// one session's events stay ordered on a partition.
func (p *Publisher) PublishRecordingState(ctx context.Context, event models.RecordingStateEvent) error {
	return p.publish(ctx, p.writerRecording, p.topicRecording, "recording.state", event.SessionID, event)
}

// PublishStage publishes a pipeline stage outcome keyed by temp audio id.
func (p *Publisher) PublishStage(ctx context.Context, event models.PipelineStageEvent) error {
	return p.publish(ctx, p.writerStage, p.topicStage, "pipeline.stage", event.TempID, event)
}

// publish validates, logs and writes a single event.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	if p.validator != nil {
		if err := p.validator.Validate(event); err != nil {
			log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Event failed validation")
			p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
			return err
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

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

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerRecording != nil {
		if e := p.writerRecording.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing recording writer")
			err = e
		}
	}
	if p.writerStage != nil {
		if e := p.writerStage.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing stage writer")
			err = e
		}
	}
	return err
}
