package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

const (
	DefaultDLQStream = "courier:notifications:dlq"

	// DLQMaxLen bounds the stream; the oldest entries are trimmed first.
	DLQMaxLen = 10000
)

// DeadLetterQueue keeps notifications that exhausted their send attempts.
type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     ectologger.Logger
}

func NewDeadLetterQueue(client *Client, streamName string, logger ectologger.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDLQStream
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

type DLQEntry struct {
	ID             string    `json:"id"`
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         uuid.UUID `json:"user_id"`
	Recipient      string    `json:"recipient"`
	Template       string    `json:"template"`
	Reason         string    `json:"reason"`
	RetryCount     int       `json:"retry_count"`
	CreatedAt      time.Time `json:"created_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// Push records an exhausted notification.
func (d *DeadLetterQueue) Push(ctx context.Context, notification *models.Notification, reason string) error {
	_, err := d.Add(ctx, &DLQEntry{
		NotificationID: notification.ID,
		UserID:         notification.UserID,
		Recipient:      notification.Recipient,
		Template:       notification.Template,
		Reason:         reason,
		RetryCount:     notification.RetryCount,
	})
	return err
}

func (d *DeadLetterQueue) Add(ctx context.Context, entry *DLQEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	messageID, err := d.client.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]any{
			"data":     string(data),
			"template": entry.Template,
			"reason":   entry.Reason,
		},
	}).Result()
	if err != nil {
		tracing.RecordError(span, err)
		d.logger.WithContext(ctx).WithError(err).Error("Failed to add notification to DLQ")
		return "", fmt.Errorf("failed to add to DLQ: %w", err)
	}

	d.logger.WithContext(ctx).Infof("Added notification to DLQ: id=%s template=%s reason=%s", entry.NotificationID, entry.Template, entry.Reason)
	return messageID, nil
}

// List returns the newest count entries first.
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.List")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	messages, err := d.client.rdb.XRevRangeN(ctx, d.streamName, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}

	entries := make([]DLQEntry, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			d.logger.WithContext(ctx).WithError(err).Warnf("Failed to unmarshal DLQ entry: %s", msg.ID)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *DeadLetterQueue) Len(ctx context.Context) (int64, error) {
	return d.client.rdb.XLen(ctx, d.streamName).Result()
}
