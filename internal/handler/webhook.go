package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/arinwt/lesson-reservation/internal/gateway"
	"github.com/arinwt/lesson-reservation/internal/repository"
	"github.com/arinwt/lesson-reservation/internal/service"
)

// WebhookHandler receives server-to-server payment notifications from
// KISPG. The endpoint is unauthenticated; trust comes entirely from the
// encData signature verified inside the payment service.
type WebhookHandler struct {
	Payments *service.PaymentService
}

func NewWebhookHandler(p *service.PaymentService) *WebhookHandler {
	if p == nil {
		panic("nil service passed to NewWebhookHandler")
	}
	return &WebhookHandler{Payments: p}
}

// Notify handles POST /v1/payments/kispg/notify. The gateway expects a
// bare "OK" body to stop redelivering; anything else makes it retry.
// A replayed notification for an already-settled payment is therefore
// answered with OK even though nothing changed.
func (h *WebhookHandler) Notify(c echo.Context) error {
	var n gateway.Notification
	if err := c.Bind(&n); err != nil {
		return c.String(http.StatusBadRequest, "FAIL")
	}

	err := h.Payments.HandleNotification(c.Request().Context(), n)
	switch {
	case err == nil, service.IsAcknowledgeable(err):
		return c.String(http.StatusOK, "OK")
	case errors.Is(err, gateway.ErrInvalidSignature), errors.Is(err, gateway.ErrBadMoid),
		errors.Is(err, repository.ErrAmountMismatch):
		return c.String(http.StatusBadRequest, "FAIL")
	default:
		c.Logger().Errorf("kispg notify tid=%s moid=%s: %v", n.Tid, n.Moid, err)
		return c.String(http.StatusInternalServerError, "FAIL")
	}
}

// Return handles GET /v1/payments/kispg/return, where the browser lands
// after the payment window closes. It only reads state: the webhook may
// still be in flight, in which case the status shows UNPAID and the
// client should poll its enrollment.
func (h *WebhookHandler) Return(c echo.Context) error {
	moid := c.QueryParam("moid")
	if moid == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "moid is required"})
	}
	res, err := h.Payments.ResultForMoid(c.Request().Context(), moid)
	if err != nil {
		if errors.Is(err, gateway.ErrBadMoid) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed moid"})
		}
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": res})
}
