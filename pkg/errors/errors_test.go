package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err  *apperrors.Error
		code int
	}{
		{apperrors.NotFound("x"), http.StatusNotFound},
		{apperrors.Forbidden("x"), http.StatusForbidden},
		{apperrors.Conflict("x"), http.StatusConflict},
		{apperrors.Validation("x"), http.StatusBadRequest},
		{apperrors.TooManyRequests("x"), http.StatusTooManyRequests},
		{apperrors.InvalidTransition("request", models.StatusPending, models.StatusCompleted), http.StatusUnprocessableEntity},
		{&apperrors.Error{Kind: "mystery"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.StatusCode())
			assert.Equal(t, tt.code, httperror.GetStatusCode(tt.err.ToHTTPError()))
		})
	}
}

func TestInvalidTransitionNamesBothEnds(t *testing.T) {
	err := apperrors.InvalidTransition("request", models.StatusPending, models.StatusCompleted)
	assert.Equal(t, "cannot transition request from pending to completed", err.Error())
	assert.Equal(t, "pending", err.Meta["from"])
	assert.Equal(t, "completed", err.Meta["to"])

	state := apperrors.InvalidState("request", models.StatusClaimed, "delete")
	assert.Equal(t, apperrors.KindInvalidTransition, state.Kind)
	assert.Equal(t, "claimed", state.Meta["status"])
}

func TestKindSurvivesWrapping(t *testing.T) {
	wrapped := pkgerrors.Wrap(apperrors.Conflict("request %s changed", "r1"), "claim")

	assert.True(t, apperrors.IsConflict(wrapped))
	assert.True(t, stderrors.Is(wrapped, apperrors.ErrConflict))
	assert.False(t, stderrors.Is(wrapped, apperrors.ErrNotFound))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(wrapped))

	assert.Equal(t, apperrors.Kind(""), apperrors.KindOf(stderrors.New("disk on fire")))
	assert.False(t, apperrors.IsNotFound(stderrors.New("disk on fire")))
}
