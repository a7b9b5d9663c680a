package email_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/pkg/email"
	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/fanout"
	"github.com/Ramsey-B/courier/pkg/models"
	"github.com/Ramsey-B/courier/pkg/repositories"
	"github.com/Ramsey-B/courier/pkg/repositories/memory"
)

func nopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []models.Notification
}

func (m *fakeMailer) Send(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, *n)
	return nil
}

type fakeDeadLetters struct {
	pushed []models.Notification
	reason string
}

func (d *fakeDeadLetters) Push(_ context.Context, n *models.Notification, reason string) error {
	d.pushed = append(d.pushed, *n)
	d.reason = reason
	return nil
}

func setup(t *testing.T) (*repositories.Store, *memory.NotificationRepository, *models.User) {
	t.Helper()
	mem := memory.NewStore()
	store := mem.Repositories()
	user, err := store.Users.Upsert(context.Background(), &models.User{
		ID:    uuid.New(),
		Email: "ana@example.com",
		Name:  "Ana",
		Role:  models.RoleCustomer,
	})
	require.NoError(t, err)
	return store, store.Notifications.(*memory.NotificationRepository), user
}

func TestRender(t *testing.T) {
	tests := []struct {
		name        string
		template    string
		data        map[string]any
		subject     string
		bodyContain []string
		bodyExclude []string
	}{
		{
			name:        "request created",
			template:    fanout.TemplateRequestCreated,
			data:        map[string]any{"name": "Ana", "product_name": "Lamp", "request_id": "r-1"},
			subject:     "Request Created Successfully",
			bodyContain: []string{"Hi Ana,", `"Lamp"`, "Request ID: r-1", "Courier Team"},
		},
		{
			name:        "claimed without agent name",
			template:    fanout.TemplateRequestClaimed,
			data:        map[string]any{"name": "Ana", "product_name": "Lamp"},
			subject:     "Your Request Has Been Claimed",
			bodyContain: []string{"An agent has claimed"},
		},
		{
			name:        "status updated with reason",
			template:    fanout.TemplateRequestStatusUpdated,
			data:        map[string]any{"name": "Ana", "product_name": "Lamp", "previous_status": "confirmed", "status": "cancelled", "reason": "out of stock"},
			subject:     "Your Request Is Now cancelled",
			bodyContain: []string{"from confirmed to cancelled", "Reason: out of stock"},
		},
		{
			name:        "resolution provided",
			template:    fanout.TemplateResolutionProvided,
			data:        map[string]any{"name": "Ana", "product_name": "Lamp", "total": 42.5, "estimated_days": 3},
			subject:     "Resolution Provided for Your Request",
			bodyContain: []string{"Total Cost: $42.50", "Estimated Delivery: 3 days"},
		},
		{
			name:        "rejected without notes",
			template:    fanout.TemplateResolutionRejected,
			data:        map[string]any{"name": "Bo", "product_name": "Lamp"},
			subject:     "Customer Rejected Your Resolution",
			bodyExclude: []string{"Reason:"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body, err := email.Render(tt.template, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
			for _, s := range tt.bodyContain {
				assert.Contains(t, body, s)
			}
			for _, s := range tt.bodyExclude {
				assert.NotContains(t, body, s)
			}
		})
	}

	_, _, err := email.Render("welcome", nil)
	assert.Error(t, err)
}

func TestOutboxEnqueue(t *testing.T) {
	ctx := context.Background()
	store, notifications, user := setup(t)
	outbox := email.NewOutbox(store.Users, store.Notifications, nopLogger())

	err := outbox.Enqueue(ctx, fanout.Email{
		UserID:   user.ID,
		Template: fanout.TemplateRequestCreated,
		Data:     map[string]any{"product_name": "Lamp", "request_id": "r-1"},
	})
	require.NoError(t, err)

	all := notifications.All()
	require.Len(t, all, 1)
	n := all[0]
	assert.Equal(t, "ana@example.com", n.Recipient)
	assert.Equal(t, models.NotificationPending, n.Status)
	assert.Equal(t, "Request Created Successfully", n.Subject)
	assert.Contains(t, n.Body, "Hi Ana,")
	assert.Equal(t, "r-1", n.Metadata.Data["request_id"])

	err = outbox.Enqueue(ctx, fanout.Email{UserID: uuid.New(), Template: fanout.TemplateRequestCreated})
	assert.Error(t, err, "unknown recipients are not queued")
	assert.Len(t, notifications.All(), 1)
}

func TestProcessorSendsPending(t *testing.T) {
	ctx := context.Background()
	store, notifications, user := setup(t)
	outbox := email.NewOutbox(store.Users, store.Notifications, nopLogger())
	require.NoError(t, outbox.Enqueue(ctx, fanout.Email{
		UserID:   user.ID,
		Template: fanout.TemplateResolutionAccepted,
		Data:     map[string]any{"product_name": "Lamp"},
	}))

	mailer := &fakeMailer{}
	processor := email.NewProcessor(email.ProcessorConfig{}, store.Notifications, mailer, nil, nopLogger())

	sent, err := processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Customer Accepted Your Resolution", mailer.sent[0].Subject)

	all := notifications.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.NotificationSent, all[0].Status)
	assert.NotNil(t, all[0].SentAt)

	sent, err = processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestProcessorGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store, notifications, user := setup(t)
	outbox := email.NewOutbox(store.Users, store.Notifications, nopLogger())
	require.NoError(t, outbox.Enqueue(ctx, fanout.Email{
		UserID:   user.ID,
		Template: fanout.TemplateRequestClaimed,
		Data:     map[string]any{"product_name": "Lamp"},
	}))

	mailer := &fakeMailer{err: errors.New("relay unavailable")}
	dead := &fakeDeadLetters{}
	processor := email.NewProcessor(email.ProcessorConfig{MaxAttempts: 3}, store.Notifications, mailer, dead, nopLogger())

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := processor.ProcessBatch(ctx)
		require.NoError(t, err)

		n := notifications.All()[0]
		assert.Equal(t, attempt, n.RetryCount)
		if attempt < 3 {
			assert.Equal(t, models.NotificationPending, n.Status)
			assert.Empty(t, dead.pushed)
		}
	}

	n := notifications.All()[0]
	assert.Equal(t, models.NotificationFailed, n.Status)
	require.NotNil(t, n.FailedReason)
	assert.Equal(t, "relay unavailable", *n.FailedReason)
	require.Len(t, dead.pushed, 1)
	assert.Equal(t, n.ID, dead.pushed[0].ID)
	assert.Equal(t, 3, dead.pushed[0].RetryCount)
	assert.Equal(t, "relay unavailable", dead.reason)

	sent, err := processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestLogMailer(t *testing.T) {
	err := email.NewLogMailer(nopLogger()).Send(context.Background(), &models.Notification{Recipient: "a@example.com", Body: "hello"})
	assert.NoError(t, err)
}

func TestHistoryListsOnlyOwnNotifications(t *testing.T) {
	ctx := context.Background()
	store, _, user := setup(t)
	other, err := store.Users.Upsert(ctx, &models.User{ID: uuid.New(), Email: "bo@example.com", Name: "Bo", Role: models.RoleCustomer})
	require.NoError(t, err)

	outbox := email.NewOutbox(store.Users, store.Notifications, nopLogger())
	for _, id := range []uuid.UUID{user.ID, user.ID, other.ID} {
		require.NoError(t, outbox.Enqueue(ctx, fanout.Email{
			UserID:   id,
			Template: fanout.TemplateRequestClaimed,
			Data:     map[string]any{"product_name": "Lamp"},
		}))
	}

	history := email.NewHistory(store.Notifications, nopLogger())
	page, err := history.List(ctx, user.Actor(), models.NotificationFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, models.PageMeta{Page: 1, Limit: 1, Total: 2, TotalPages: 2}, page.Meta)

	stats, err := history.Stats(ctx, other.Actor())
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStats{Total: 1, Pending: 1}, stats)

	bogus := models.NotificationStatus("bounced")
	_, err = history.List(ctx, user.Actor(), models.NotificationFilter{Status: &bogus})
	assert.True(t, apperrors.IsValidation(err))
}

func TestHistoryRetry(t *testing.T) {
	ctx := context.Background()
	store, notifications, user := setup(t)
	outbox := email.NewOutbox(store.Users, store.Notifications, nopLogger())
	require.NoError(t, outbox.Enqueue(ctx, fanout.Email{
		UserID:   user.ID,
		Template: fanout.TemplateRequestClaimed,
		Data:     map[string]any{"product_name": "Lamp"},
	}))
	id := notifications.All()[0].ID

	history := email.NewHistory(store.Notifications, nopLogger())

	_, err := history.Retry(ctx, user.Actor(), id)
	assert.True(t, apperrors.IsInvalidTransition(err))

	processor := email.NewProcessor(email.ProcessorConfig{MaxAttempts: 1}, store.Notifications, &fakeMailer{err: errors.New("relay unavailable")}, &fakeDeadLetters{}, nopLogger())
	_, err = processor.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, models.NotificationFailed, notifications.All()[0].Status)

	stranger := models.Actor{UserID: uuid.New(), Role: models.RoleCustomer}
	_, err = history.Retry(ctx, stranger, id)
	assert.True(t, apperrors.IsNotFound(err))

	retried, err := history.Retry(ctx, user.Actor(), id)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationPending, retried.Status)
	assert.Zero(t, retried.RetryCount)
	assert.Nil(t, retried.FailedReason)

	mailer := &fakeMailer{}
	processor = email.NewProcessor(email.ProcessorConfig{MaxAttempts: 1}, store.Notifications, mailer, &fakeDeadLetters{}, nopLogger())
	sent, err := processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, mailer.sent, 1)

	admin := models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}
	got, err := history.Get(ctx, admin, id)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSent, got.Status)
}
