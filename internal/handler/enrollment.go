package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/service"
)

// EnrollmentHandler serves the customer-facing enrollment lifecycle:
// reserving a slot, launching the payment window, browsing one's own
// enrollments and requesting cancellation. All methods assume JWT
// authentication and role validation happened in middleware.
type EnrollmentHandler struct {
	Reservations  *service.ReservationService
	Payments      *service.PaymentService
	Cancellations *service.CancellationService
}

func NewEnrollmentHandler(r *service.ReservationService, p *service.PaymentService, cs *service.CancellationService) *EnrollmentHandler {
	if r == nil || p == nil || cs == nil {
		panic("nil service passed to NewEnrollmentHandler")
	}
	return &EnrollmentHandler{Reservations: r, Payments: p, Cancellations: cs}
}

// enrollmentView is the enrollment shape returned to customers.
type enrollmentView struct {
	ID              uint64     `json:"id"`
	LessonID        uint64     `json:"lesson_id"`
	Status          string     `json:"status"`
	PayStatus       string     `json:"pay_status"`
	CancelStatus    string     `json:"cancel_status"`
	ExpireDt        *time.Time `json:"expire_dt,omitempty"`
	UsesLocker      bool       `json:"uses_locker"`
	LockerAllocated bool       `json:"locker_allocated"`
	FinalAmount     int        `json:"final_amount"`
	DiscountType    string     `json:"discount_type,omitempty"`
	DiscountPct     int        `json:"discount_pct,omitempty"`
	RefundAmount    *int       `json:"refund_amount,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func viewOf(e model.Enrollment) enrollmentView {
	return enrollmentView{
		ID:              e.ID,
		LessonID:        e.LessonID,
		Status:          string(e.Status),
		PayStatus:       string(e.PayStatus),
		CancelStatus:    string(e.CancelStatus),
		ExpireDt:        e.ExpireDt,
		UsesLocker:      e.UsesLocker,
		LockerAllocated: e.LockerAllocated,
		FinalAmount:     e.FinalAmount,
		DiscountType:    e.DiscountType,
		DiscountPct:     e.DiscountPct,
		RefundAmount:    e.RefundAmount,
		CancelReason:    e.CancelReason,
		CreatedAt:       e.CreatedAt,
	}
}

// Reserve handles POST /v1/enrollments. It creates an UNPAID hold on a
// lesson slot; the hold keeps the slot for the payment window and is
// reclaimed by the sweeper if no payment arrives.
func (h *EnrollmentHandler) Reserve(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		LessonID     uint64 `json:"lesson_id"`
		UsesLocker   bool   `json:"uses_locker"`
		DiscountType string `json:"discount_type"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.LessonID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "lesson_id is required"})
	}

	e, err := h.Reservations.Reserve(c.Request().Context(), service.ReserveInput{
		UserID:       userID,
		LessonID:     body.LessonID,
		UsesLocker:   body.UsesLocker,
		DiscountType: body.DiscountType,
		ClientIP:     c.RealIP(),
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, viewOf(*e))
}

// List handles GET /v1/enrollments and returns the caller's own rows,
// newest first.
func (h *EnrollmentHandler) List(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Reservations.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return serviceError(c, err)
	}
	out := make([]enrollmentView, 0, len(items))
	for _, e := range items {
		out = append(out, viewOf(e))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Get handles GET /v1/enrollments/:id. Ownership is enforced in the
// service layer; a foreign row reads as forbidden, not as missing.
func (h *EnrollmentHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid enrollment id"})
	}
	e, err := h.Reservations.Get(c.Request().Context(), id, userID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": viewOf(e)})
}

// InitPayment handles POST /v1/enrollments/:id/payment. It returns the
// signed parameter set the client forwards to the KISPG payment window.
// The enrollment must still be inside its payment window.
func (h *EnrollmentHandler) InitPayment(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid enrollment id"})
	}
	params, err := h.Payments.InitPayment(c.Request().Context(), id, userID, c.RealIP())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, params)
}

// RequestCancel handles POST /v1/enrollments/:id/cancel. A paid
// enrollment moves to REFUND_REQUESTED and waits for an admin decision;
// the slot stays occupied until the refund settles.
func (h *EnrollmentHandler) RequestCancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid enrollment id"})
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.Reason) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reason is required"})
	}
	if err := h.Cancellations.Request(c.Request().Context(), id, userID, strings.TrimSpace(body.Reason)); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"status": "cancel requested"})
}
