package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/repository"
)

// Membership discount percentages applied to the lesson fee. The empty
// type means no membership was claimed.
var discountPctByType = map[string]int{
	"":            0,
	"GENERAL":     0,
	"MERIT":       10,
	"MULTI_CHILD": 20,
}

// ReservationService admits users into lessons. A successful Reserve
// produces an UNPAID enrollment holding a capacity slot until the
// payment window closes.
type ReservationService struct {
	enrolls    EnrollmentStore
	lessons    LessonStore
	users      UserStore
	window     time.Duration // payment window for UNPAID rows
	lockerFee  int           // KRW added when a locker is requested
	maxRetries int
	now        func() time.Time

	deadlockRetries atomic.Int64
}

// NewReservationService wires a ReservationService. window is how long
// an unpaid reservation holds its slot; lockerFee is the flat locker
// charge in KRW.
func NewReservationService(enrolls EnrollmentStore, lessons LessonStore, users UserStore, window time.Duration, lockerFee int) *ReservationService {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ReservationService{
		enrolls:    enrolls,
		lessons:    lessons,
		users:      users,
		window:     window,
		lockerFee:  lockerFee,
		maxRetries: 3,
		now:        time.Now,
	}
}

// ReserveInput carries a reservation request.
type ReserveInput struct {
	UserID       uint64
	LessonID     uint64
	UsesLocker   bool
	DiscountType string
	ClientIP     string
}

// Reserve creates an UNPAID enrollment for the user. The capacity
// check, duplicate check and insert run atomically in the store; this
// layer validates the request, prices it and retries transient lock
// failures.
func (s *ReservationService) Reserve(ctx context.Context, in ReserveInput) (*model.Enrollment, error) {
	in.DiscountType = strings.ToUpper(strings.TrimSpace(in.DiscountType))
	pct, ok := discountPctByType[in.DiscountType]
	if !ok {
		return nil, repository.ErrInvalidStateTransition
	}

	lesson, err := s.lessons.GetByID(ctx, in.LessonID)
	if err != nil {
		return nil, err
	}

	if in.UsesLocker {
		// Locker pools are per gender, so the profile must carry one.
		user, err := s.users.GetByID(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		if !model.ValidGender(user.Gender) {
			return nil, repository.ErrLockerUnavailable
		}
	}

	amount := lesson.Price - lesson.Price*pct/100
	if in.UsesLocker {
		amount += s.lockerFee
	}

	now := s.now().UTC()
	params := repository.ReserveParams{
		UserID:       in.UserID,
		LessonID:     in.LessonID,
		UsesLocker:   in.UsesLocker,
		FinalAmount:  amount,
		DiscountType: in.DiscountType,
		DiscountPct:  pct,
		CreatedIP:    in.ClientIP,
		ExpireAt:     now.Add(s.window),
		Now:          now,
	}

	var enr *model.Enrollment
	err = withDeadlockRetry(ctx, s.maxRetries, &s.deadlockRetries, func() error {
		var rerr error
		enr, rerr = s.enrolls.ReserveSlot(ctx, params)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	return enr, nil
}

// Get returns one enrollment, enforcing that it belongs to the caller.
func (s *ReservationService) Get(ctx context.Context, enrollID, userID uint64) (model.Enrollment, error) {
	e, err := s.enrolls.GetByID(ctx, enrollID)
	if err != nil {
		return model.Enrollment{}, err
	}
	if e.UserID != userID {
		return model.Enrollment{}, repository.ErrForbidden
	}
	return e, nil
}

// ListForUser returns the caller's enrollments, newest first.
func (s *ReservationService) ListForUser(ctx context.Context, userID uint64) ([]model.Enrollment, error) {
	return s.enrolls.ListByUser(ctx, userID)
}

// DeadlockRetries reports how many lock-contention retries the service
// has performed since start.
func (s *ReservationService) DeadlockRetries() int64 {
	return s.deadlockRetries.Load()
}
