// Package email turns fan-out emails into durable outbox rows and sends them
// in the background.
package email

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/courier/pkg/database"
	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/tracing"
)

// Outbox renders emails and stores them as pending notifications.
type Outbox struct {
	users         repositories.UserRepo
	notifications repositories.NotificationRepo
	logger        ectologger.Logger
	now           func() time.Time
}

func NewOutbox(users repositories.UserRepo, notifications repositories.NotificationRepo, logger ectologger.Logger) *Outbox {
	return &Outbox{
		users:         users,
		notifications: notifications,
		logger:        logger,
		now:           time.Now,
	}
}

func (o *Outbox) Enqueue(ctx context.Context, email fanout.Email) error {
	ctx, span := tracing.StartSpan(ctx, "Outbox.Enqueue")
	defer span.End()

	user, err := o.users.GetByID(ctx, email.UserID)
	if err != nil {
		tracing.RecordError(span, err)
		return errors.Wrapf(err, "failed to load recipient %s", email.UserID)
	}

	data := map[string]any{"name": user.Name}
	for k, v := range email.Data {
		data[k] = v
	}

	subject, body, err := Render(email.Template, data)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	metadata := map[string]string{}
	for k, v := range email.Data {
		metadata[k] = fmt.Sprint(v)
	}

	now := o.now().UTC()
	notification, err := o.notifications.Create(ctx, &models.Notification{
		ID:        uuid.New(),
		UserID:    user.ID,
		Recipient: user.Email,
		Template:  email.Template,
		Subject:   subject,
		Body:      body,
		Status:    models.NotificationPending,
		Metadata:  database.NewJSONB(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return errors.Wrap(err, "failed to store notification")
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": notification.ID,
		"template":        notification.Template,
		"user_id":         notification.UserID,
	}).Info("Notification queued")
	return nil
}
