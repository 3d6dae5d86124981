package service

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/arinwt/lesson-reservation/internal/gateway"
	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/queue"
	"github.com/arinwt/lesson-reservation/internal/repository"
)

// PaymentGateway is the slice of the KISPG client the payment service
// depends on.
type PaymentGateway interface {
	BuildInitParams(enrollID uint64, amount int, itemName, buyerName, buyerTel, userIP string) gateway.InitParams
	VerifyNotification(n gateway.Notification) error
}

// PaymentService reconciles gateway captures against enrollments: it
// prepares payment window parameters for the browser and settles the
// server-to-server result notifications.
type PaymentService struct {
	enrolls EnrollmentStore
	lessons LessonStore
	users   UserStore
	gw      PaymentGateway
	events  EventPublisher
	now     func() time.Time

	deadlockRetries atomic.Int64
}

// NewPaymentService wires a PaymentService. events may be nil when no
// broker is configured.
func NewPaymentService(enrolls EnrollmentStore, lessons LessonStore, users UserStore, gw PaymentGateway, events EventPublisher) *PaymentService {
	return &PaymentService{
		enrolls: enrolls,
		lessons: lessons,
		users:   users,
		gw:      gw,
		events:  events,
		now:     time.Now,
	}
}

// InitPayment returns the parameters the browser posts to the gateway
// payment window for one of the caller's UNPAID enrollments.
func (s *PaymentService) InitPayment(ctx context.Context, enrollID, userID uint64, clientIP string) (gateway.InitParams, error) {
	e, err := s.enrolls.GetByID(ctx, enrollID)
	if err != nil {
		return gateway.InitParams{}, err
	}
	if e.UserID != userID {
		return gateway.InitParams{}, repository.ErrForbidden
	}
	if e.PayStatus != model.PayUnpaid || !e.Active(s.now().UTC()) {
		return gateway.InitParams{}, repository.ErrReservationExpired
	}
	lesson, err := s.lessons.GetByID(ctx, e.LessonID)
	if err != nil {
		return gateway.InitParams{}, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return gateway.InitParams{}, err
	}
	return s.gw.BuildInitParams(e.ID, e.FinalAmount, lesson.Title, user.Name, user.Phone, clientIP), nil
}

// HandleNotification settles a KISPG server-to-server payment result.
// The signature is verified first; a declined result is acknowledged
// without side effects. For an approved capture the amount must equal
// the quoted amount, then the store promotes the row to PAID and, when
// a locker was requested, tries the pool. Pool exhaustion does not fail
// the payment; it is flagged over the event bus for manual follow-up.
//
// Redeliveries surface as ErrAlreadyProcessed and captures that lose
// to the expiry sweep as ErrReservationExpired; both are flagged by
// IsAcknowledgeable and callers should acknowledge them as success.
func (s *PaymentService) HandleNotification(ctx context.Context, n gateway.Notification) error {
	if err := s.gw.VerifyNotification(n); err != nil {
		return err
	}
	enrollID, err := gateway.ParseMoid(n.Moid)
	if err != nil {
		return err
	}
	if !n.Approved() {
		log.Printf("payment: declined notification for enroll %d: [%s] %s",
			enrollID, n.ResultCode, n.ResultMsg)
		return nil
	}

	e, err := s.enrolls.GetByID(ctx, enrollID)
	if err != nil {
		return err
	}
	if n.Amount() != e.FinalAmount {
		return repository.ErrAmountMismatch
	}

	now := s.now().UTC()
	params := repository.ConfirmParams{
		EnrollID: enrollID,
		Payment: model.Payment{
			Tid:          n.Tid,
			Moid:         n.Moid,
			PaidAmt:      e.FinalAmount,
			PayMethod:    n.PayMethod,
			PgResultCode: n.ResultCode,
			PgResultMsg:  n.ResultMsg,
			PaidAt:       now,
		},
	}
	var lockerGender model.Gender
	if e.UsesLocker {
		user, err := s.users.GetByID(ctx, e.UserID)
		if err != nil {
			return err
		}
		lockerGender = user.Gender
		params.LockerGender = &lockerGender
	}

	var res repository.ConfirmResult
	err = withDeadlockRetry(ctx, 3, &s.deadlockRetries, func() error {
		var cerr error
		res, cerr = s.enrolls.ConfirmPayment(ctx, params)
		return cerr
	})
	if err != nil {
		if errors.Is(err, repository.ErrReservationExpired) {
			// The capture is real but the sweep already reclaimed the
			// slot. Redelivering cannot resolve that, so the case is
			// flagged for a manual gateway-side refund and the error
			// stays acknowledgeable to stop the redelivery loop.
			log.Printf("payment: capture for expired enroll %d (tid %s, %d KRW) needs manual refund",
				enrollID, n.Tid, e.FinalAmount)
			s.publish(ctx, queue.TypePaymentOrphaned, queue.OrphanedPaymentEvent{
				EnrollID:   e.ID,
				UserID:     e.UserID,
				Tid:        n.Tid,
				Moid:       n.Moid,
				Amount:     e.FinalAmount,
				OccurredAt: now.Format(time.RFC3339),
			})
		}
		return err
	}

	s.publishPaid(ctx, e, n, res.LockerAllocated, now)
	if e.UsesLocker && !res.LockerAllocated {
		s.publish(ctx, queue.TypeLockerExhausted, queue.LockerExhaustedEvent{
			EnrollID:   e.ID,
			UserID:     e.UserID,
			Gender:     string(lockerGender),
			OccurredAt: now.Format(time.RFC3339),
		})
	}
	return nil
}

func (s *PaymentService) publishPaid(ctx context.Context, e model.Enrollment, n gateway.Notification, lockerAllocated bool, now time.Time) {
	title := ""
	if lesson, err := s.lessons.GetByID(ctx, e.LessonID); err == nil {
		title = lesson.Title
	}
	s.publish(ctx, queue.TypeEnrollmentPaid, queue.EnrollmentPaidEvent{
		EnrollID:        e.ID,
		UserID:          e.UserID,
		LessonID:        e.LessonID,
		LessonTitle:     title,
		Amount:          e.FinalAmount,
		Tid:             n.Tid,
		Moid:            n.Moid,
		LockerRequested: e.UsesLocker,
		LockerAllocated: lockerAllocated,
		PaidAt:          now.Format(time.RFC3339),
	})
}

func (s *PaymentService) publish(ctx context.Context, typ string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, typ, payload); err != nil {
		log.Printf("payment: publish %s failed: %v", typ, err)
	}
}

// PaymentResult is the settlement state shown to a browser coming back
// from the payment window. The webhook is the source of truth; this is
// a read-only view of whatever it has settled so far.
type PaymentResult struct {
	EnrollID  uint64          `json:"enroll_id"`
	PayStatus model.PayStatus `json:"pay_status"`
	Amount    int             `json:"amount"`
}

// ResultForMoid resolves a gateway order id to the current payment
// state of its enrollment.
func (s *PaymentService) ResultForMoid(ctx context.Context, moid string) (PaymentResult, error) {
	enrollID, err := gateway.ParseMoid(moid)
	if err != nil {
		return PaymentResult{}, err
	}
	e, err := s.enrolls.GetByID(ctx, enrollID)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{EnrollID: e.ID, PayStatus: e.PayStatus, Amount: e.FinalAmount}, nil
}

// IsAcknowledgeable reports whether a notification error should still
// be answered with success so the gateway stops redelivering: a
// replayed delivery of an already-settled capture, or a capture for an
// expired slot that only a manual refund can resolve.
func IsAcknowledgeable(err error) bool {
	return errors.Is(err, repository.ErrAlreadyProcessed) ||
		errors.Is(err, repository.ErrReservationExpired)
}
