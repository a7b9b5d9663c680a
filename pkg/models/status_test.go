package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/courier/pkg/models"
)

func TestRequestStatus_TransitionTable(t *testing.T) {
	allowed := map[models.RequestStatus][]models.RequestStatus{
		models.StatusPending:            {models.StatusClaimed, models.StatusCancelled},
		models.StatusClaimed:            {models.StatusResolutionProvided, models.StatusPending, models.StatusCancelled},
		models.StatusResolutionProvided: {models.StatusPayment, models.StatusClaimed, models.StatusCancelled},
		models.StatusPayment:            {models.StatusVerification, models.StatusCancelled},
		models.StatusVerification:       {models.StatusConfirmed, models.StatusCancelled},
		models.StatusConfirmed:          {models.StatusCompleted, models.StatusCancelled},
	}

	for _, from := range models.AllStatuses() {
		for _, to := range models.AllStatuses() {
			want := contains(allowed[from], to)
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestRequestStatus_Terminal(t *testing.T) {
	for _, s := range models.AllStatuses() {
		terminal := s == models.StatusCompleted || s == models.StatusCancelled
		assert.Equal(t, terminal, s.IsTerminal(), s.String())
		if terminal {
			assert.Empty(t, s.Next())
			assert.False(t, s.HoldsClaim())
		}
	}
	assert.False(t, models.StatusPending.HoldsClaim())
	assert.True(t, models.StatusConfirmed.HoldsClaim())
}

func TestRequestStatus_IsValid(t *testing.T) {
	assert.True(t, models.StatusVerification.IsValid())
	assert.False(t, models.RequestStatus("customer_rejected").IsValid())
}

func TestRequestStatus_NextIsCopy(t *testing.T) {
	next := models.StatusPending.Next()
	next[0] = models.StatusCompleted
	assert.True(t, models.StatusPending.CanTransitionTo(models.StatusClaimed))
}

func contains(list []models.RequestStatus, s models.RequestStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
