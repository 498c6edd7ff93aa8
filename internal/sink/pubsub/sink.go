// Package pubsub publishes each record as a Google Cloud Pub/Sub message.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

// Config names the topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// publisher is the subset of *pubsub.Topic the sink needs.
type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
	Stop()
}

type topicPublisher struct {
	topic *pubsub.Topic
}

func (t topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return t.topic.Publish(ctx, msg).Get(ctx)
}

func (t topicPublisher) Stop() {
	t.topic.Stop()
}

// Sink publishes records and waits for each server ack.
type Sink struct {
	pub   publisher
	runID string
}

// New wraps topic.
func New(topic *pubsub.Topic, runID string) (*Sink, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is not configured")
	}
	return &Sink{pub: topicPublisher{topic: topic}, runID: runID}, nil
}

// Write marshals rec to JSON and publishes it. Trace context and routing
// metadata travel as message attributes.
func (s *Sink) Write(ctx context.Context, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{
		"run_id":     s.runID,
		"source_url": rec.SourceURL,
		"failed":     strconv.FormatBool(rec.Failed()),
	}}
	if rec.SourceQueryCode != nil {
		msg.Attributes["postal_code"] = *rec.SourceQueryCode
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := s.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (s *Sink) Close() error {
	s.pub.Stop()
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
