package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

type Config struct {
	Brokers     []string
	EventsTopic string
	EmailTopic  string
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	out := []string{}
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Producer publishes request lifecycle events and outbound emails. Lifecycle
// events are keyed by request id so a request's history stays on one partition.
type Producer struct {
	events      MessageWriter
	emails      MessageWriter
	eventsTopic string
	emailTopic  string
	logger      ectologger.Logger
}

func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	return NewProducerWithWriters(
		newWriter(cfg.Brokers, cfg.EventsTopic), cfg.EventsTopic,
		newWriter(cfg.Brokers, cfg.EmailTopic), cfg.EmailTopic,
		logger,
	)
}

func NewProducerWithWriters(events MessageWriter, eventsTopic string, emails MessageWriter, emailTopic string, logger ectologger.Logger) *Producer {
	return &Producer{
		events:      events,
		emails:      emails,
		eventsTopic: eventsTopic,
		emailTopic:  emailTopic,
		logger:      logger,
	}
}

func (p *Producer) Close() error {
	var firstErr error
	for _, w := range []MessageWriter{p.events, p.emails} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func traceHeaders(ctx context.Context, traceParent string) []kafka.Header {
	headers := []kafka.Header{}
	if traceParent == "" {
		traceParent = tracing.GetTraceParent(ctx)
	}
	if traceParent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceParent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}
	return headers
}

func (p *Producer) Name() string {
	return "kafka"
}

// Deliver publishes one fan-out event to the lifecycle topic.
func (p *Producer) Deliver(ctx context.Context, event fanout.Event) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.Deliver",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.eventsTopic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("event", string(event.Name)),
		attribute.String("request_id", event.RequestID.String()),
	)
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := append([]kafka.Header{
		{Key: "event", Value: []byte(event.Name)},
		{Key: "room", Value: []byte(event.Room)},
		{Key: "version", Value: []byte(fmt.Sprint(event.Version))},
	}, traceHeaders(ctx, event.TraceParent)...)

	if err := p.events.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.RequestID.String()),
		Value:   data,
		Headers: headers,
	}); err != nil {
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish event to Kafka topic %s", p.eventsTopic)
		return err
	}
	return nil
}

// EmailMessage is what a downstream mail relay consumes.
type EmailMessage struct {
	NotificationID string            `json:"notification_id"`
	To             string            `json:"to"`
	Template       string            `json:"template"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Send hands a rendered notification to the email topic.
func (p *Producer) Send(ctx context.Context, notification *models.Notification) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.Send",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.emailTopic),
		attribute.String("template", notification.Template),
	)
	defer span.End()

	data, err := json.Marshal(EmailMessage{
		NotificationID: notification.ID.String(),
		To:             notification.Recipient,
		Template:       notification.Template,
		Subject:        notification.Subject,
		Body:           notification.Body,
		Metadata:       notification.Metadata.Data,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	if err := p.emails.WriteMessages(ctx, kafka.Message{
		Key:     []byte(notification.UserID.String()),
		Value:   data,
		Headers: append([]kafka.Header{{Key: "template", Value: []byte(notification.Template)}}, traceHeaders(ctx, "")...),
	}); err != nil {
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish email to Kafka topic %s", p.emailTopic)
		return err
	}

	p.logger.WithContext(ctx).Debugf("Published email to Kafka: notification=%s template=%s", notification.ID, notification.Template)
	return nil
}
