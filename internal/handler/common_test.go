package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/arinwt/lesson-reservation/internal/repository"
)

func newTestContext(t *testing.T) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestServiceErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{repository.ErrForbidden, http.StatusForbidden},
		{repository.ErrLessonNotFound, http.StatusNotFound},
		{repository.ErrEnrollmentNotFound, http.StatusNotFound},
		{repository.ErrRegistrationClosed, http.StatusConflict},
		{repository.ErrCapacityExceeded, http.StatusConflict},
		{repository.ErrAlreadyEnrolled, http.StatusConflict},
		{repository.ErrLockerUnavailable, http.StatusConflict},
		{repository.ErrReservationExpired, http.StatusConflict},
		{repository.ErrAlreadyProcessed, http.StatusConflict},
		{repository.ErrInvalidStateTransition, http.StatusConflict},
		{repository.ErrAmountMismatch, http.StatusBadRequest},
		{repository.ErrRefundExceedsPaid, http.StatusBadRequest},
		{repository.ErrGatewayUnavailable, http.StatusBadGateway},
		{fmt.Errorf("driver: bad connection"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		c, rec := newTestContext(t)
		if err := serviceError(c, tt.err); err != nil {
			t.Fatalf("serviceError(%v) returned %v", tt.err, err)
		}
		if rec.Code != tt.status {
			t.Errorf("serviceError(%v) wrote %d, want %d", tt.err, rec.Code, tt.status)
		}
	}

	// Wrapped sentinels map the same as bare ones.
	c, rec := newTestContext(t)
	if err := serviceError(c, fmt.Errorf("reserve: %w", repository.ErrCapacityExceeded)); err != nil {
		t.Fatalf("serviceError: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("wrapped sentinel wrote %d, want 409", rec.Code)
	}
}

func TestGetUserIDCoercion(t *testing.T) {
	// JWT numeric claims arrive as float64; other shapes show up in tests
	// and internal calls.
	for _, v := range []any{float64(42), int(42), int64(42), uint64(42), "42"} {
		c, _ := newTestContext(t)
		c.Set("user_id", v)
		got, err := getUserID(c)
		if err != nil || got != 42 {
			t.Errorf("getUserID(%T) = %d, %v", v, got, err)
		}
	}

	c, _ := newTestContext(t)
	if _, err := getUserID(c); err == nil {
		t.Error("missing user_id must error")
	}
}
