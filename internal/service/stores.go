package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/repository"
)

// EnrollmentStore is the slice of the enrollment repository the
// services depend on. Declared here so tests can substitute an
// in-memory implementation.
type EnrollmentStore interface {
	ReserveSlot(ctx context.Context, p repository.ReserveParams) (*model.Enrollment, error)
	GetByID(ctx context.Context, id uint64) (model.Enrollment, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Enrollment, error)
	ListCancelRequests(ctx context.Context) ([]model.Enrollment, error)
	ConfirmPayment(ctx context.Context, p repository.ConfirmParams) (repository.ConfirmResult, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	RequestCancel(ctx context.Context, enrollID, userID uint64, reason string, now time.Time) error
	DenyCancel(ctx context.Context, enrollID uint64, comment string) error
	AdminCancel(ctx context.Context, enrollID uint64, comment string, now time.Time) error
	ClaimRefund(ctx context.Context, enrollID uint64) (model.CancelStatus, error)
	ReleaseRefundClaim(ctx context.Context, enrollID uint64, prev model.CancelStatus) error
	FinalizeRefund(ctx context.Context, p repository.FinalizeParams, lockerGender model.Gender) error
}

// LessonStore provides read access to lessons.
type LessonStore interface {
	GetByID(ctx context.Context, id uint64) (model.Lesson, error)
}

// UserStore provides read access to users.
type UserStore interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// PaymentStore provides read access to the payments ledger.
type PaymentStore interface {
	FindByEnrollID(ctx context.Context, enrollID uint64) (model.Payment, error)
}

// withDeadlockRetry runs fn up to attempts times, backing off
// exponentially between tries while the failure is a database deadlock
// or lock wait timeout. counter tracks how many retries were spent,
// for operational visibility.
func withDeadlockRetry(ctx context.Context, attempts int, counter *atomic.Int64, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	backoff := 25 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !errors.Is(err, repository.ErrDeadlock) {
			return err
		}
		if i == attempts-1 {
			break
		}
		counter.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
