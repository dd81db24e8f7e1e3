package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/isdelr/safeback/internal/lock"
	"github.com/isdelr/safeback/internal/services"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("capture: %w", lock.ErrHeld), http.StatusConflict, "lock_contention"},
		{services.ErrInvalidConfirmation, http.StatusUnprocessableEntity, "invalid_confirmation"},
		{fmt.Errorf("user u: %w", services.ErrForbidden), http.StatusForbidden, "forbidden"},
		{services.ErrNotFound, http.StatusNotFound, "not_found"},
		{services.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{services.ErrStorageFailure, http.StatusBadGateway, "storage_failure"},
		{&services.ProviderError{Provider: "tasks", Err: errors.New("boom")}, http.StatusInternalServerError, "provider_failure"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeError(rec, req, errors.New("sql: connection refused at 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"internal"}`, rec.Body.String())
}
