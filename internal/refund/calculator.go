// Package refund computes prorated refunds for canceled enrollments.
// Everything in this package is a pure function of its inputs; callers
// persist the result and talk to the payment gateway themselves.
package refund

import (
	"errors"
	"time"

	"github.com/arinwt/lesson-reservation/internal/model"
)

// ErrExceedsPaid is returned when an admin override asks to refund more
// than was captured for the enrollment.
var ErrExceedsPaid = errors.New("refund exceeds paid amount")

// Basis selects how the refund figure is produced. Exactly one of the
// two implementations is passed to Compute. Modeling this as a closed
// sum (rather than nullable override fields) keeps the audit trail
// unambiguous: the persisted RefundBasisKind records which path ran.
type Basis interface {
	kind() model.RefundBasisKind
}

// SystemComputed applies the proration formula. ManualUsedDays, when
// non-nil, replaces the system-calculated used-day count (it is still
// clamped to [0, totalDays]).
type SystemComputed struct {
	ManualUsedDays *int
}

func (SystemComputed) kind() model.RefundBasisKind { return model.RefundBasisSystem }

// AdminOverridden bypasses the formula entirely: the admin supplies the
// final amount and asserts whether it constitutes a full refund.
type AdminOverridden struct {
	Amount     int
	FullRefund bool
}

func (AdminOverridden) kind() model.RefundBasisKind { return model.RefundBasisAdmin }

// Input carries everything the calculation depends on.
type Input struct {
	Lesson       model.Lesson
	PaidAmount   int       // total captured by the gateway
	LockerAmount int       // locker fee portion of PaidAmount (0 when no locker)
	Now          time.Time // calculation instant, normally the approval time
}

// Details is the full breakdown of a computed refund. FinalAmount is
// always within [0, PaidAmount].
type Details struct {
	TotalDays         int
	SystemUsedDays    int
	EffectiveUsedDays int
	PaidLessonAmount  int
	PaidLockerAmount  int
	LessonDeduction   int
	LockerDeduction   int
	FinalAmount       int
	FullRefund        bool
	Basis             model.RefundBasisKind
}

// Compute produces the refund breakdown for an enrollment.
//
// Under SystemComputed:
//   - usedDays counts calendar days from the lesson start through
//     min(now, endDate), inclusive; zero before the lesson starts.
//   - the lesson fee is prorated: deduction = round-half-up of
//     paidLesson * usedDays / totalDays, applied exactly once here.
//   - the locker fee is fully forfeited once the lesson has started,
//     regardless of usedDays, and fully refunded before the start.
//     The asymmetry with the prorated lesson fee is intentional
//     facility policy, preserved as-is.
//   - FullRefund is true iff effectiveUsedDays == 0.
//
// Under AdminOverridden the supplied amount is taken verbatim after
// range checks (negative is floored to zero, above PaidAmount fails
// with ErrExceedsPaid).
func Compute(in Input, basis Basis) (Details, error) {
	paidLocker := in.LockerAmount
	if paidLocker > in.PaidAmount {
		paidLocker = in.PaidAmount
	}
	paidLesson := in.PaidAmount - paidLocker
	totalDays := in.Lesson.TotalDays()

	d := Details{
		TotalDays:        totalDays,
		PaidLessonAmount: paidLesson,
		PaidLockerAmount: paidLocker,
		Basis:            basis.kind(),
	}
	d.SystemUsedDays = usedDays(in.Lesson, in.Now, totalDays)

	switch b := basis.(type) {
	case AdminOverridden:
		if b.Amount > in.PaidAmount {
			return Details{}, ErrExceedsPaid
		}
		d.FinalAmount = b.Amount
		if d.FinalAmount < 0 {
			d.FinalAmount = 0
		}
		d.FullRefund = b.FullRefund
		d.EffectiveUsedDays = d.SystemUsedDays
		return d, nil
	case SystemComputed:
		d.EffectiveUsedDays = d.SystemUsedDays
		if b.ManualUsedDays != nil {
			d.EffectiveUsedDays = *b.ManualUsedDays
		}
		if d.EffectiveUsedDays < 0 {
			d.EffectiveUsedDays = 0
		}
		if d.EffectiveUsedDays > totalDays {
			d.EffectiveUsedDays = totalDays
		}

		d.LessonDeduction = roundDiv(paidLesson*d.EffectiveUsedDays, totalDays)
		if d.LessonDeduction > paidLesson {
			d.LessonDeduction = paidLesson
		}
		if in.Lesson.Started(in.Now) {
			d.LockerDeduction = paidLocker
		}

		lessonRefund := paidLesson - d.LessonDeduction
		if lessonRefund < 0 {
			lessonRefund = 0
		}
		lockerRefund := paidLocker - d.LockerDeduction
		if lockerRefund < 0 {
			lockerRefund = 0
		}
		d.FinalAmount = lessonRefund + lockerRefund
		if d.FinalAmount > in.PaidAmount {
			d.FinalAmount = in.PaidAmount
		}
		d.FullRefund = d.EffectiveUsedDays == 0
		return d, nil
	default:
		return Details{}, errors.New("refund: unknown basis")
	}
}

// usedDays returns the system-calculated used-day count, clamped to
// [0, totalDays]. The day the lesson starts counts as one used day.
func usedDays(l model.Lesson, now time.Time, totalDays int) int {
	if now.Before(l.StartDate) {
		return 0
	}
	until := now
	if until.After(l.EndDate) {
		until = l.EndDate
	}
	days := int(until.Sub(l.StartDate).Hours()/24) + 1
	if days < 0 {
		days = 0
	}
	if days > totalDays {
		days = totalDays
	}
	return days
}

// roundDiv divides n by d rounding half-up. Inputs are non-negative.
func roundDiv(n, d int) int {
	return (n + d/2) / d
}
