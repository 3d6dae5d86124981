package handler // handler defines http handlers

import (
	"errors"  // errors provides sentinel comparisons for service failures
	"net/http"
	"strconv" // strconv converts strings to numeric types

	"github.com/labstack/echo/v4"

	"github.com/arinwt/lesson-reservation/internal/repository"
)

// getUserID extracts the user_id from echo.Context and converts it to uint64
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// pathID parses a positive numeric :id path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// serviceError maps domain sentinels onto HTTP responses so every
// handler reports the same status for the same failure.
func serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrLessonNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "lesson not found"})
	case errors.Is(err, repository.ErrEnrollmentNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "enrollment not found"})
	case errors.Is(err, repository.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	case errors.Is(err, repository.ErrRegistrationClosed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "registration window closed"})
	case errors.Is(err, repository.ErrCapacityExceeded):
		return c.JSON(http.StatusConflict, echo.Map{"error": "lesson is full"})
	case errors.Is(err, repository.ErrAlreadyEnrolled):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already enrolled in this lesson"})
	case errors.Is(err, repository.ErrLockerUnavailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "no locker available"})
	case errors.Is(err, repository.ErrReservationExpired):
		return c.JSON(http.StatusConflict, echo.Map{"error": "reservation expired"})
	case errors.Is(err, repository.ErrAlreadyProcessed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already processed"})
	case errors.Is(err, repository.ErrInvalidStateTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": "state does not allow this operation"})
	case errors.Is(err, repository.ErrAmountMismatch):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount mismatch"})
	case errors.Is(err, repository.ErrRefundExceedsPaid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refund exceeds paid amount"})
	case errors.Is(err, repository.ErrGatewayUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway unavailable"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
