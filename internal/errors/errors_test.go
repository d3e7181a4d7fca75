package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapErrorToHTTP(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "wrapped not found", err: fmt.Errorf("%w: slice", ErrNotFound), status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "invalid state", err: fmt.Errorf("%w: release from pending", ErrInvalidState), status: http.StatusConflict, code: "INVALID_STATE"},
		{name: "forbidden", err: ErrForbidden, status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "invalid amount", err: ErrInvalidAmount, status: http.StatusBadRequest, code: "INVALID_AMOUNT"},
		{name: "evidence required", err: ErrEvidenceRequired, status: http.StatusUnprocessableEntity, code: "EVIDENCE_REQUIRED"},
		{name: "capacity", err: ErrCapacityExceeded, status: http.StatusConflict, code: "CAPACITY_EXCEEDED"},
		{name: "already processed", err: ErrAlreadyProcessed, status: http.StatusOK, code: "ALREADY_PROCESSED"},
		{name: "provider", err: ErrExternalProvider, status: http.StatusBadGateway, code: "PROVIDER_UNAVAILABLE"},
		{name: "unknown", err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := MapErrorToHTTP(tt.err, "req-1")
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.code, httpErr.Code)
			assert.Equal(t, "req-1", httpErr.ToErrorResponse().Reference)
		})
	}
}

func TestMapErrorToHTTP_HidesProviderDetail(t *testing.T) {
	err := fmt.Errorf("%w: card processor refund: pi_secret_123 declined", ErrExternalProvider)

	httpErr := MapErrorToHTTP(err, "req-9")

	assert.NotContains(t, httpErr.Message, "pi_secret_123")
	assert.True(t, Retryable(err))
	assert.False(t, Retryable(ErrInvalidState))
}
