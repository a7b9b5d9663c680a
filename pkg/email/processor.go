package email

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/courier/pkg/metrics"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

type ProcessorConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = models.MaxNotificationAttempts
	}
	return c
}

// Processor drains the outbox. A notification that fails MaxAttempts times
// is marked failed and pushed to the dead letter stream.
type Processor struct {
	notifications repositories.NotificationRepo
	mailer        Mailer
	deadLetters   DeadLetters
	cfg           ProcessorConfig
	logger        ectologger.Logger
	now           func() time.Time
}

func NewProcessor(cfg ProcessorConfig, notifications repositories.NotificationRepo, mailer Mailer, deadLetters DeadLetters, logger ectologger.Logger) *Processor {
	return &Processor{
		notifications: notifications,
		mailer:        mailer,
		deadLetters:   deadLetters,
		cfg:           cfg.withDefaults(),
		logger:        logger,
		now:           time.Now,
	}
}

// Run polls until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			p.logger.WithContext(ctx).WithError(err).Error("Failed to process notifications")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch sends one batch of pending notifications and reports how many
// were sent.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "Processor.ProcessBatch")
	defer span.End()

	pending, err := p.notifications.ListPending(ctx, p.cfg.BatchSize)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, errors.Wrap(err, "failed to list pending notifications")
	}

	sent := 0
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		ok, err := p.process(ctx, &pending[i])
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (p *Processor) process(ctx context.Context, notification *models.Notification) (bool, error) {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": notification.ID,
		"template":        notification.Template,
	})

	sendErr := p.mailer.Send(ctx, notification)
	if sendErr == nil {
		metrics.NotificationsTotal.WithLabelValues(notification.Template, "sent").Inc()
		if err := p.notifications.MarkSent(ctx, notification.ID, p.now().UTC()); err != nil {
			return false, errors.Wrap(err, "failed to mark notification sent")
		}
		log.Info("Notification sent")
		return true, nil
	}

	final := notification.Exhausted(p.cfg.MaxAttempts)
	metrics.NotificationsTotal.WithLabelValues(notification.Template, "failed").Inc()
	log.WithError(sendErr).Warnf("Notification send failed (attempt %d of %d)", notification.RetryCount+1, p.cfg.MaxAttempts)

	if err := p.notifications.MarkFailed(ctx, notification.ID, sendErr.Error(), final, p.now().UTC()); err != nil {
		return false, errors.Wrap(err, "failed to record notification failure")
	}

	if final && p.deadLetters != nil {
		notification.RetryCount++
		if err := p.deadLetters.Push(ctx, notification, sendErr.Error()); err != nil {
			log.WithError(err).Error("Failed to push notification to dead letter stream")
			return false, nil
		}
		metrics.NotificationDLQTotal.Inc()
	}
	return false, nil
}
