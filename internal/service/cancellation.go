package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arinwt/lesson-reservation/internal/gateway"
	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/queue"
	"github.com/arinwt/lesson-reservation/internal/refund"
	"github.com/arinwt/lesson-reservation/internal/repository"
)

// RefundGateway is the slice of the KISPG client the cancellation
// workflow depends on.
type RefundGateway interface {
	Refund(ctx context.Context, tid, payMethod string, amount int, reason string, partial bool) (gateway.RefundResult, error)
}

// CancellationService runs the cancellation and refund workflow: user
// requests, admin decisions and the money movement they trigger.
type CancellationService struct {
	enrolls  EnrollmentStore
	lessons  LessonStore
	users    UserStore
	payments PaymentStore
	gw       RefundGateway
	events   EventPublisher
	now      func() time.Time
}

// NewCancellationService wires a CancellationService. events may be nil
// when no broker is configured.
func NewCancellationService(enrolls EnrollmentStore, lessons LessonStore, users UserStore, payments PaymentStore, gw RefundGateway, events EventPublisher) *CancellationService {
	return &CancellationService{
		enrolls:  enrolls,
		lessons:  lessons,
		users:    users,
		payments: payments,
		gw:       gw,
		events:   events,
		now:      time.Now,
	}
}

// Request opens a cancellation request on the caller's own paid
// enrollment. The slot stays occupied until an admin decides.
func (s *CancellationService) Request(ctx context.Context, enrollID, userID uint64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: reason required", repository.ErrInvalidStateTransition)
	}
	return s.enrolls.RequestCancel(ctx, enrollID, userID, reason, s.now().UTC())
}

// Deny closes an open request without refunding. A comment explaining
// the decision is mandatory; it is shown to the user.
func (s *CancellationService) Deny(ctx context.Context, enrollID uint64, comment string) error {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return fmt.Errorf("%w: comment required", repository.ErrInvalidStateTransition)
	}
	return s.enrolls.DenyCancel(ctx, enrollID, comment)
}

// AdminCancel cancels an enrollment on the facility's initiative. Paid
// rows are parked until their refund is approved; unpaid rows are
// closed outright.
func (s *CancellationService) AdminCancel(ctx context.Context, enrollID uint64, comment string) error {
	return s.enrolls.AdminCancel(ctx, enrollID, comment, s.now().UTC())
}

// ListRequests returns enrollments awaiting an admin decision.
func (s *CancellationService) ListRequests(ctx context.Context) ([]model.Enrollment, error) {
	return s.enrolls.ListCancelRequests(ctx)
}

// ApproveInput carries an admin's refund decision. When OverrideAmount
// is nil the system proration formula runs, optionally with
// ManualUsedDays replacing the calculated used-day count. When
// OverrideAmount is set it is paid out verbatim and FullRefund tells
// the ledger whether to close the row as fully refunded.
type ApproveInput struct {
	EnrollID       uint64
	ManualUsedDays *int
	OverrideAmount *int
	FullRefund     bool
	Comment        string
}

// Preview computes the refund an approval would pay out right now,
// without touching any state.
func (s *CancellationService) Preview(ctx context.Context, enrollID uint64, manualUsedDays *int) (refund.Details, error) {
	_, details, err := s.compute(ctx, ApproveInput{EnrollID: enrollID, ManualUsedDays: manualUsedDays})
	return details, err
}

// Approve settles a cancellation request: it claims the request, moves
// the money at the gateway and then finalizes the ledger. The claim is
// a conditional update to PENDING taken before the gateway call, so a
// concurrent approval of the same request fails there instead of
// submitting a second refund. A gateway failure hands the claim back
// and leaves every other row untouched; the request can simply be
// approved again.
func (s *CancellationService) Approve(ctx context.Context, in ApproveInput) (refund.Details, error) {
	e, details, err := s.compute(ctx, in)
	if err != nil {
		return refund.Details{}, err
	}

	prev, err := s.enrolls.ClaimRefund(ctx, e.ID)
	if err != nil {
		return refund.Details{}, err
	}
	release := func() {
		if rbErr := s.enrolls.ReleaseRefundClaim(ctx, e.ID, prev); rbErr != nil {
			log.Printf("cancellation: release refund claim for enroll %d failed: %v", e.ID, rbErr)
		}
	}

	pay, err := s.payments.FindByEnrollID(ctx, e.ID)
	if err != nil {
		release()
		return refund.Details{}, err
	}

	if details.FinalAmount > 0 {
		partial := !details.FullRefund
		_, err := s.gw.Refund(ctx, pay.Tid, pay.PayMethod, details.FinalAmount, e.CancelReason, partial)
		if err != nil {
			release()
			if errors.Is(err, gateway.ErrUnavailable) {
				return refund.Details{}, fmt.Errorf("%w: %v", repository.ErrGatewayUnavailable, err)
			}
			return refund.Details{}, err
		}
	}

	now := s.now().UTC()
	lockerGender := model.Gender("")
	if e.LockerAllocated {
		user, err := s.users.GetByID(ctx, e.UserID)
		if err != nil {
			return refund.Details{}, err
		}
		lockerGender = user.Gender
	}
	err = s.enrolls.FinalizeRefund(ctx, repository.FinalizeParams{
		EnrollID:     e.ID,
		Amount:       details.FinalAmount,
		DaysUsed:     details.EffectiveUsedDays,
		Basis:        details.Basis,
		FullRefund:   details.FullRefund,
		AdminComment: strings.TrimSpace(in.Comment),
		Now:          now,
	}, lockerGender)
	if err != nil {
		// The money has moved but the ledger write failed; this needs
		// eyes, not a silent retry of the gateway call. The claim is
		// kept on purpose so a retried approval cannot resubmit the
		// refund; the row stays visible in the request list.
		log.Printf("cancellation: refund sent but finalize failed for enroll %d: %v", e.ID, err)
		return refund.Details{}, err
	}

	if s.events != nil {
		evErr := s.events.Publish(ctx, queue.TypeRefundProcessed, queue.RefundProcessedEvent{
			EnrollID:     e.ID,
			UserID:       e.UserID,
			LessonID:     e.LessonID,
			RefundAmount: details.FinalAmount,
			FullRefund:   details.FullRefund,
			Basis:        string(details.Basis),
			ProcessedAt:  now.Format(time.RFC3339),
		})
		if evErr != nil {
			log.Printf("cancellation: publish refund event failed: %v", evErr)
		}
	}
	return details, nil
}

// compute loads everything the refund formula needs and runs it.
func (s *CancellationService) compute(ctx context.Context, in ApproveInput) (model.Enrollment, refund.Details, error) {
	e, err := s.enrolls.GetByID(ctx, in.EnrollID)
	if err != nil {
		return model.Enrollment{}, refund.Details{}, err
	}
	lesson, err := s.lessons.GetByID(ctx, e.LessonID)
	if err != nil {
		return model.Enrollment{}, refund.Details{}, err
	}

	lockerAmount := 0
	if e.UsesLocker {
		// The locker fee is the part of the charge above the discounted
		// lesson price.
		lessonFee := lesson.Price - lesson.Price*e.DiscountPct/100
		if e.FinalAmount > lessonFee {
			lockerAmount = e.FinalAmount - lessonFee
		}
	}

	var basis refund.Basis = refund.SystemComputed{ManualUsedDays: in.ManualUsedDays}
	if in.OverrideAmount != nil {
		basis = refund.AdminOverridden{Amount: *in.OverrideAmount, FullRefund: in.FullRefund}
	}
	details, err := refund.Compute(refund.Input{
		Lesson:       lesson,
		PaidAmount:   e.FinalAmount,
		LockerAmount: lockerAmount,
		Now:          s.now().UTC(),
	}, basis)
	if err != nil {
		if errors.Is(err, refund.ErrExceedsPaid) {
			return model.Enrollment{}, refund.Details{}, repository.ErrRefundExceedsPaid
		}
		return model.Enrollment{}, refund.Details{}, err
	}
	return e, details, nil
}
