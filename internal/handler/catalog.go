// This file defines handlers for the public browsing API. These routes allow
// unauthenticated users to browse lessons and locker availability without
// requiring authentication. Sensitive fields (enrollment ledgers, who holds
// which slot) are never exposed here.

package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/repository"
)

// CatalogHandler aggregates repositories needed for unauthenticated browsing.
// It produces sanitized responses suitable for public consumption.
type CatalogHandler struct {
	Lessons     *repository.LessonRepo     // lesson catalog
	Enrollments *repository.EnrollmentRepo // occupancy counts
	Lockers     *repository.LockerRepo     // locker pool availability
}

func NewCatalogHandler(lessons *repository.LessonRepo, enrollments *repository.EnrollmentRepo, lockers *repository.LockerRepo) *CatalogHandler {
	if lessons == nil || enrollments == nil || lockers == nil {
		panic("nil repository passed to NewCatalogHandler")
	}
	return &CatalogHandler{Lessons: lessons, Enrollments: enrollments, Lockers: lockers}
}

// PublicLesson is a lesson exposed via the public API. Remaining counts
// paid and still-pending unpaid enrollments against capacity, so it can
// briefly undercount when a pending reservation later expires.
type PublicLesson struct {
	ID         uint64    `json:"id"`
	Title      string    `json:"title"`
	Instructor string    `json:"instructor,omitempty"`
	LessonTime string    `json:"lesson_time,omitempty"`
	Price      int       `json:"price"`
	Capacity   int       `json:"capacity"`
	Remaining  int       `json:"remaining"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	RegStartAt time.Time `json:"reg_start_at"`
	RegEndAt   time.Time `json:"reg_end_at"`
	RegOpen    bool      `json:"reg_open"`
}

// PublicLockerPool reports per-gender locker availability.
type PublicLockerPool struct {
	Gender    model.Gender `json:"gender"`
	Total     int          `json:"total"`
	Available int          `json:"available"`
}

func (h *CatalogHandler) publicLesson(l model.Lesson, occupied int, now time.Time) PublicLesson {
	remaining := l.Capacity - occupied
	if remaining < 0 {
		remaining = 0
	}
	return PublicLesson{
		ID:         l.ID,
		Title:      l.Title,
		Instructor: l.Instructor,
		LessonTime: l.LessonTime,
		Price:      l.Price,
		Capacity:   l.Capacity,
		Remaining:  remaining,
		StartDate:  l.StartDate,
		EndDate:    l.EndDate,
		RegStartAt: l.RegStartAt,
		RegEndAt:   l.RegEndAt,
		RegOpen:    l.RegistrationOpen(now),
	}
}

// ListLessons returns the full catalog with live remaining-slot counts.
// Response JSON contains an "items" array of PublicLesson.
func (h *CatalogHandler) ListLessons(c echo.Context) error {
	ctx := c.Request().Context()
	now := time.Now().UTC()

	lessons, err := h.Lessons.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := make([]PublicLesson, 0, len(lessons))
	for _, l := range lessons {
		occupied, err := h.Enrollments.CountOccupied(ctx, l.ID, now)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		out = append(out, h.publicLesson(l, occupied, now))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// GetLesson returns a single lesson with its remaining-slot count.
func (h *CatalogHandler) GetLesson(c echo.Context) error {
	ctx := c.Request().Context()
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lesson id"})
	}
	l, err := h.Lessons.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrLessonNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "lesson not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	now := time.Now().UTC()
	occupied, err := h.Enrollments.CountOccupied(ctx, l.ID, now)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, h.publicLesson(l, occupied, now))
}

// ListLockerPools reports how many lockers remain per gender so clients
// can warn users before they pay for a locker they may not get.
func (h *CatalogHandler) ListLockerPools(c echo.Context) error {
	ctx := c.Request().Context()
	pools, err := h.Lockers.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := make([]PublicLockerPool, 0, len(pools))
	for _, p := range pools {
		out = append(out, PublicLockerPool{Gender: p.Gender, Total: p.Total, Available: p.Available()})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}
