// Package pubsub publishes alerts to a Google Cloud Pub/Sub topic so other
// services can fan them out.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
)

// Alert is the JSON body of each published message.
type Alert struct {
	Text   string    `json:"text"`
	Format string    `json:"format"`
	SentAt time.Time `json:"sentAt"`
}

// Sink wraps a Pub/Sub topic publisher.
type Sink struct {
	publisher *pubsub.Publisher
	now       func() time.Time
}

// New creates a Sink for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Sink {
	return &Sink{publisher: publisher, now: time.Now}
}

// SendMessage publishes text and waits for the server ack.
func (s *Sink) SendMessage(ctx context.Context, text string) error {
	if s.publisher == nil {
		return errors.New("pubsub publisher is not configured")
	}
	msg, err := s.buildMessage(ctx, text)
	if err != nil {
		return err
	}
	if _, err := s.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (s *Sink) buildMessage(ctx context.Context, text string) (*pubsub.Message, error) {
	data, err := json.Marshal(Alert{Text: text, Format: "html", SentAt: s.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content-type": "application/json"},
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})
	return msg, nil
}

// attributeCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
