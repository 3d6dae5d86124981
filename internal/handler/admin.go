package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/refund"
	"github.com/arinwt/lesson-reservation/internal/repository"
	"github.com/arinwt/lesson-reservation/internal/service"
)

// AdminHandler bundles everything facility staff need: lesson catalog
// management, locker pool sizing, enrollment oversight and the
// cancellation/refund workflow.
type AdminHandler struct {
	Lessons       *repository.LessonRepo
	Enrollments   *repository.EnrollmentRepo
	Lockers       *repository.LockerRepo
	Cancellations *service.CancellationService
}

func NewAdminHandler(lessons *repository.LessonRepo, enrollments *repository.EnrollmentRepo, lockers *repository.LockerRepo, cs *service.CancellationService) *AdminHandler {
	if lessons == nil || enrollments == nil || lockers == nil || cs == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Lessons: lessons, Enrollments: enrollments, Lockers: lockers, Cancellations: cs}
}

// ----- lessons -----

type lessonReq struct {
	Title      string    `json:"title"`
	Instructor string    `json:"instructor"`
	Capacity   int       `json:"capacity"`
	Price      int       `json:"price"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	LessonTime string    `json:"lesson_time"`
	RegStartAt time.Time `json:"reg_start_at"`
	RegEndAt   time.Time `json:"reg_end_at"`
}

func (r lessonReq) validate() string {
	switch {
	case strings.TrimSpace(r.Title) == "":
		return "title is required"
	case r.Capacity < 1:
		return "capacity must be at least 1"
	case r.Price < 0:
		return "price must not be negative"
	case r.StartDate.IsZero() || r.EndDate.IsZero():
		return "start_date and end_date are required"
	case r.EndDate.Before(r.StartDate):
		return "end_date must not precede start_date"
	default:
		return ""
	}
}

func (r lessonReq) toModel(id uint64) model.Lesson {
	return model.Lesson{
		ID:         id,
		Title:      strings.TrimSpace(r.Title),
		Instructor: strings.TrimSpace(r.Instructor),
		Capacity:   r.Capacity,
		Price:      r.Price,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		LessonTime: strings.TrimSpace(r.LessonTime),
		RegStartAt: r.RegStartAt,
		RegEndAt:   r.RegEndAt,
	}
}

// CreateLesson handles POST /v1/admin/lessons.
func (h *AdminHandler) CreateLesson(c echo.Context) error {
	var req lessonReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	l := req.toModel(0)
	if err := h.Lessons.Create(c.Request().Context(), &l); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": l})
}

// UpdateLesson handles PUT /v1/admin/lessons/:id. Capacity and price
// are locked while any enrollment occupies a slot: paid users keep the
// terms they paid under, and shrinking capacity under active holds
// would break the occupancy ceiling.
func (h *AdminHandler) UpdateLesson(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lesson id"})
	}
	var req lessonReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	old, err := h.Lessons.GetByID(c.Request().Context(), id)
	if err != nil {
		return serviceError(c, err)
	}
	if req.Capacity != old.Capacity || req.Price != old.Price {
		occupied, err := h.Enrollments.CountOccupied(c.Request().Context(), id, time.Now().UTC())
		if err != nil {
			return serviceError(c, err)
		}
		if occupied > 0 {
			return c.JSON(http.StatusConflict, echo.Map{"error": "capacity and price are locked while enrollments are active"})
		}
	}
	l := req.toModel(id)
	if err := h.Lessons.Update(c.Request().Context(), &l); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": l})
}

// ListLessonEnrollments handles GET /v1/admin/lessons/:id/enrollments.
func (h *AdminHandler) ListLessonEnrollments(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lesson id"})
	}
	if _, err := h.Lessons.GetByID(c.Request().Context(), id); err != nil {
		return serviceError(c, err)
	}
	items, err := h.Enrollments.ListByLesson(c.Request().Context(), id)
	if err != nil {
		return serviceError(c, err)
	}
	out := make([]enrollmentView, 0, len(items))
	for _, e := range items {
		out = append(out, viewOf(e))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// ----- lockers -----

// ListLockers handles GET /v1/admin/lockers.
func (h *AdminHandler) ListLockers(c echo.Context) error {
	pools, err := h.Lockers.List(c.Request().Context())
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": pools})
}

// GetLocker handles GET /v1/admin/lockers/:gender.
func (h *AdminHandler) GetLocker(c echo.Context) error {
	gender := model.Gender(strings.ToUpper(c.Param("gender")))
	if !model.ValidGender(gender) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "gender must be MALE or FEMALE"})
	}
	pool, err := h.Lockers.Get(c.Request().Context(), gender)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": pool})
}

// SetLockerTotal handles PUT /v1/admin/lockers/:gender. The total can
// never be pushed below the number of lockers currently handed out.
func (h *AdminHandler) SetLockerTotal(c echo.Context) error {
	gender := model.Gender(strings.ToUpper(c.Param("gender")))
	if !model.ValidGender(gender) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "gender must be MALE or FEMALE"})
	}
	var body struct {
		Total int `json:"total"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Total < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "total must not be negative"})
	}
	if err := h.Lockers.SetTotal(c.Request().Context(), gender, body.Total); err != nil {
		return serviceError(c, err)
	}
	pool, err := h.Lockers.Get(c.Request().Context(), gender)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": pool})
}

// ----- cancellation / refund workflow -----

// refundView flattens refund.Details for JSON responses.
type refundView struct {
	TotalDays       int    `json:"total_days"`
	UsedDays        int    `json:"used_days"`
	PaidLesson      int    `json:"paid_lesson_amount"`
	PaidLocker      int    `json:"paid_locker_amount"`
	LessonDeduction int    `json:"lesson_deduction"`
	LockerDeduction int    `json:"locker_deduction"`
	RefundAmount    int    `json:"refund_amount"`
	FullRefund      bool   `json:"full_refund"`
	Basis           string `json:"basis"`
}

func refundViewOf(d refund.Details) refundView {
	return refundView{
		TotalDays:       d.TotalDays,
		UsedDays:        d.EffectiveUsedDays,
		PaidLesson:      d.PaidLessonAmount,
		PaidLocker:      d.PaidLockerAmount,
		LessonDeduction: d.LessonDeduction,
		LockerDeduction: d.LockerDeduction,
		RefundAmount:    d.FinalAmount,
		FullRefund:      d.FullRefund,
		Basis:           string(d.Basis),
	}
}

// ListCancelRequests handles GET /v1/admin/cancellations: every
// enrollment waiting on an admin decision, oldest request first.
func (h *AdminHandler) ListCancelRequests(c echo.Context) error {
	items, err := h.Cancellations.ListRequests(c.Request().Context())
	if err != nil {
		return serviceError(c, err)
	}
	out := make([]enrollmentView, 0, len(items))
	for _, e := range items {
		out = append(out, viewOf(e))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// PreviewRefund handles GET /v1/admin/enrollments/:id/refund-preview.
// An optional used_days query parameter overrides the system-computed
// used-day count, mirroring what Approve would do with the same value.
func (h *AdminHandler) PreviewRefund(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid enrollment id"})
	}
	var manual *int
	if raw := c.QueryParam("used_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "used_days must be a non-negative integer"})
		}
		manual = &n
	}
	details, err := h.Cancellations.Preview(c.Request().Context(), id, manual)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": refundViewOf(details)})
}

type approveReq struct {
	ManualUsedDays *int   `json:"manual_used_days"`
	OverrideAmount *int   `json:"override_amount"`
	FullRefund     bool   `json:"full_refund"`
	Comment        string `json:"comment"`
}

// ApproveCancel handles POST /v1/admin/enrollments/:id/approve. It
// moves money at the gateway and settles the ledger; on a gateway
// failure nothing changes and the request can be approved again.
func (h *AdminHandler) ApproveCancel(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid enrollment id"})
	}
	var req approveReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.ManualUsedDays != nil && req.OverrideAmount != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "manual_used_days and override_amount are mutually exclusive"})
	}
	if req.ManualUsedDays != nil && *req.ManualUsedDays < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "manual_used_days must not be negative"})
	}
	details, err := h.Cancellations.Approve(c.Request().Context(), service.ApproveInput{
		EnrollID:       id,
		ManualUsedDays: req.ManualUsedDays,
		OverrideAmount: req.OverrideAmount,
		FullRefund:     req.FullRefund,
		Comment:        strings.TrimSpace(req.Comment),
	})
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"item": refundViewOf(details)})
}

// DenyCancel handles POST /v1/admin/enrollments/:id/deny. The
// enrollment returns to PAID and the customer may request again.
func (h *AdminHandler) DenyCancel(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid enrollment id"})
	}
	var body struct {
		Comment string `json:"comment"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.Comment) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "comment is required"})
	}
	if err := h.Cancellations.Deny(c.Request().Context(), id, strings.TrimSpace(body.Comment)); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "denied"})
}

// AdminCancel handles POST /v1/admin/enrollments/:id/cancel. An unpaid
// row is closed outright; a paid one is parked as pending until its
// refund is approved.
func (h *AdminHandler) AdminCancel(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid enrollment id"})
	}
	var body struct {
		Comment string `json:"comment"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Cancellations.AdminCancel(c.Request().Context(), id, strings.TrimSpace(body.Comment)); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "canceled"})
}
