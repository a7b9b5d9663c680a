package email

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/courier/pkg/models"
)

// Mailer hands a rendered notification to a delivery channel.
type Mailer interface {
	Send(ctx context.Context, notification *models.Notification) error
}

// DeadLetters keeps notifications that ran out of attempts.
type DeadLetters interface {
	Push(ctx context.Context, notification *models.Notification, reason string) error
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	logger ectologger.Logger
}

func NewLogMailer(logger ectologger.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, notification *models.Notification) error {
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"to":       notification.Recipient,
		"template": notification.Template,
		"subject":  notification.Subject,
	}).Info(notification.Body)
	return nil
}
