package service

import (
	"context"
	"sync"
	"time"

	"github.com/arinwt/lesson-reservation/internal/gateway"
	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/repository"
)

// fakeStore is an in-memory stand-in for the MySQL repositories. It
// reproduces the conditional-update semantics the services rely on,
// under a single mutex so concurrent test traffic serializes the same
// way row locks do.
type fakeStore struct {
	mu       sync.Mutex
	lessons  map[uint64]model.Lesson
	users    map[uint64]model.User
	enrolls  map[uint64]*model.Enrollment
	payments map[uint64]*model.Payment // keyed by enroll id
	tids     map[string]bool
	lockers  map[model.Gender]*model.LockerInventory
	nextID   uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lessons:  make(map[uint64]model.Lesson),
		users:    make(map[uint64]model.User),
		enrolls:  make(map[uint64]*model.Enrollment),
		payments: make(map[uint64]*model.Payment),
		tids:     make(map[string]bool),
		lockers:  make(map[model.Gender]*model.LockerInventory),
	}
}

func (f *fakeStore) addLesson(l model.Lesson) model.Lesson {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lessons[l.ID] = l
	return l
}

func (f *fakeStore) addUser(u model.User) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) setLockers(g model.Gender, total, used int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockers[g] = &model.LockerInventory{Gender: g, Total: total, Used: used}
}

func (f *fakeStore) enrollment(id uint64) model.Enrollment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.enrolls[id]
}

func (f *fakeStore) payment(enrollID uint64) model.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.payments[enrollID]
}

func (f *fakeStore) lockerUsed(g model.Gender) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lockers[g].Used
}

func (f *fakeStore) occupiedLocked(lessonID uint64, now time.Time) int {
	n := 0
	for _, e := range f.enrolls {
		if e.LessonID == lessonID && e.Active(now) {
			n++
		}
	}
	return n
}

func (f *fakeStore) GetByID(ctx context.Context, id uint64) (model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrolls[id]
	if !ok {
		return model.Enrollment{}, repository.ErrEnrollmentNotFound
	}
	return *e, nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID uint64) ([]model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Enrollment
	for _, e := range f.enrolls {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCancelRequests(ctx context.Context) ([]model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Enrollment
	for _, e := range f.enrolls {
		if e.Status == model.StatusApplied &&
			(e.CancelStatus == model.CancelRequested || e.CancelStatus == model.CancelPending ||
				e.CancelStatus == model.CancelAdminCanceled) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) ReserveSlot(ctx context.Context, p repository.ReserveParams) (*model.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lesson, ok := f.lessons[p.LessonID]
	if !ok {
		return nil, repository.ErrLessonNotFound
	}
	if !lesson.RegistrationOpen(p.Now) {
		return nil, repository.ErrRegistrationClosed
	}
	for _, e := range f.enrolls {
		if e.UserID == p.UserID && e.LessonID == p.LessonID && e.Active(p.Now) {
			return nil, repository.ErrAlreadyEnrolled
		}
	}
	if f.occupiedLocked(p.LessonID, p.Now) >= lesson.Capacity {
		return nil, repository.ErrCapacityExceeded
	}
	f.nextID++
	expire := p.ExpireAt
	e := &model.Enrollment{
		ID:           f.nextID,
		UserID:       p.UserID,
		LessonID:     p.LessonID,
		Status:       model.StatusApplied,
		PayStatus:    model.PayUnpaid,
		CancelStatus: model.CancelNone,
		ExpireDt:     &expire,
		UsesLocker:   p.UsesLocker,
		FinalAmount:  p.FinalAmount,
		DiscountType: p.DiscountType,
		DiscountPct:  p.DiscountPct,
		CreatedIP:    p.CreatedIP,
		CreatedAt:    p.Now,
	}
	f.enrolls[e.ID] = e
	out := *e
	return &out, nil
}

func (f *fakeStore) ConfirmPayment(ctx context.Context, p repository.ConfirmParams) (repository.ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res repository.ConfirmResult
	if f.tids[p.Payment.Tid] {
		return res, repository.ErrAlreadyProcessed
	}
	e, ok := f.enrolls[p.EnrollID]
	if !ok {
		return res, repository.ErrEnrollmentNotFound
	}
	if e.PayStatus != model.PayUnpaid {
		if e.PayStatus == model.PayPaid {
			return res, repository.ErrAlreadyProcessed
		}
		return res, repository.ErrReservationExpired
	}
	f.tids[p.Payment.Tid] = true
	pay := p.Payment
	pay.EnrollID = p.EnrollID
	pay.Status = model.PaymentPaid
	f.payments[p.EnrollID] = &pay
	e.PayStatus = model.PayPaid
	e.ExpireDt = nil
	if p.LockerGender != nil {
		inv := f.lockers[*p.LockerGender]
		if inv != nil && inv.Used < inv.Total {
			inv.Used++
			e.LockerAllocated = true
			res.LockerAllocated = true
		}
	}
	return res, nil
}

func (f *fakeStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.enrolls {
		if e.Status == model.StatusApplied && e.PayStatus == model.PayUnpaid &&
			e.ExpireDt != nil && !e.ExpireDt.After(now) {
			e.Status = model.StatusExpired
			e.PayStatus = model.PayTimeout
			e.ExpireDt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) RequestCancel(ctx context.Context, enrollID, userID uint64, reason string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrolls[enrollID]
	if !ok {
		return repository.ErrEnrollmentNotFound
	}
	if e.UserID != userID {
		return repository.ErrForbidden
	}
	if e.PayStatus != model.PayPaid ||
		(e.CancelStatus != model.CancelNone && e.CancelStatus != model.CancelDenied) {
		return repository.ErrInvalidStateTransition
	}
	e.CancelStatus = model.CancelRequested
	e.PayStatus = model.PayRefundRequested
	e.CancelReason = reason
	t := now
	e.CancelRequestedAt = &t
	return nil
}

func (f *fakeStore) DenyCancel(ctx context.Context, enrollID uint64, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrolls[enrollID]
	if !ok {
		return repository.ErrEnrollmentNotFound
	}
	if e.CancelStatus != model.CancelRequested {
		return repository.ErrInvalidStateTransition
	}
	e.CancelStatus = model.CancelDenied
	e.PayStatus = model.PayPaid
	e.AdminComment = comment
	return nil
}

func (f *fakeStore) AdminCancel(ctx context.Context, enrollID uint64, comment string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrolls[enrollID]
	if !ok {
		return repository.ErrEnrollmentNotFound
	}
	if e.Status != model.StatusApplied || !model.CanTransitionCancel(e.CancelStatus, model.CancelAdminCanceled) {
		return repository.ErrInvalidStateTransition
	}
	if e.PayStatus == model.PayUnpaid {
		e.Status = model.StatusCanceled
		e.CancelStatus = model.CancelAdminCanceled
		e.ExpireDt = nil
	} else {
		e.CancelStatus = model.CancelAdminCanceled
		e.PayStatus = model.PayRefundPendingAdmin
	}
	e.AdminComment = comment
	t := now
	e.CancelRequestedAt = &t
	return nil
}

func (f *fakeStore) ClaimRefund(ctx context.Context, enrollID uint64) (model.CancelStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrolls[enrollID]
	if !ok {
		return "", repository.ErrEnrollmentNotFound
	}
	if e.Status != model.StatusApplied || !model.CanTransitionCancel(e.CancelStatus, model.CancelPending) {
		return "", repository.ErrInvalidStateTransition
	}
	prev := e.CancelStatus
	e.CancelStatus = model.CancelPending
	return prev, nil
}

func (f *fakeStore) ReleaseRefundClaim(ctx context.Context, enrollID uint64, prev model.CancelStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrolls[enrollID]
	if !ok {
		return repository.ErrEnrollmentNotFound
	}
	if e.CancelStatus != model.CancelPending {
		return repository.ErrInvalidStateTransition
	}
	e.CancelStatus = prev
	return nil
}

func (f *fakeStore) FinalizeRefund(ctx context.Context, p repository.FinalizeParams, lockerGender model.Gender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrolls[p.EnrollID]
	if !ok {
		return repository.ErrEnrollmentNotFound
	}
	if !model.CanTransitionCancel(e.CancelStatus, model.CancelApproved) {
		return repository.ErrInvalidStateTransition
	}
	pay, ok := f.payments[p.EnrollID]
	if !ok {
		return repository.ErrEnrollmentNotFound
	}
	if pay.RefundedAmt+p.Amount > pay.PaidAmt {
		return repository.ErrRefundExceedsPaid
	}
	pay.RefundedAmt += p.Amount
	if p.FullRefund {
		pay.Status = model.PaymentCanceled
	} else {
		pay.Status = model.PaymentPartialRefunded
	}
	e.Status = model.StatusCanceled
	e.CancelStatus = model.CancelApproved
	if p.FullRefund {
		e.PayStatus = model.PayRefunded
	} else {
		e.PayStatus = model.PayPartialRefunded
	}
	amt := p.Amount
	days := p.DaysUsed
	e.RefundAmount = &amt
	e.DaysUsedForRefund = &days
	e.RefundBasis = p.Basis
	e.AdminComment = p.AdminComment
	t := p.Now
	e.CancelApprovedAt = &t
	if e.LockerAllocated {
		if inv := f.lockers[lockerGender]; inv != nil && inv.Used > 0 {
			inv.Used--
		}
		e.LockerAllocated = false
	}
	return nil
}

// lessonStore / userStore / paymentStore views over the same fake.

func (f *fakeStore) GetLesson(ctx context.Context, id uint64) (model.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lessons[id]
	if !ok {
		return model.Lesson{}, repository.ErrLessonNotFound
	}
	return l, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) FindByEnrollID(ctx context.Context, enrollID uint64) (model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[enrollID]
	if !ok {
		return model.Payment{}, repository.ErrEnrollmentNotFound
	}
	return *p, nil
}

type lessonStoreFunc struct{ f *fakeStore }

func (s lessonStoreFunc) GetByID(ctx context.Context, id uint64) (model.Lesson, error) {
	return s.f.GetLesson(ctx, id)
}

type userStoreFunc struct{ f *fakeStore }

func (s userStoreFunc) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return s.f.GetUser(ctx, id)
}

// capturePublisher records published events in memory.
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	Type    string
	Payload any
}

func (c *capturePublisher) Publish(ctx context.Context, eventType string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Type: eventType, Payload: payload})
	return nil
}

func (c *capturePublisher) byType(t string) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeRefundGateway scripts the cancel API.
type fakeRefundGateway struct {
	mu    sync.Mutex
	err   error
	calls []fakeRefundCall
}

type fakeRefundCall struct {
	Tid     string
	Amount  int
	Partial bool
}

func (g *fakeRefundGateway) Refund(ctx context.Context, tid, payMethod string, amount int, reason string, partial bool) (gateway.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return gateway.RefundResult{}, g.err
	}
	g.calls = append(g.calls, fakeRefundCall{Tid: tid, Amount: amount, Partial: partial})
	code := "2002"
	if !partial {
		code = "2001"
	}
	return gateway.RefundResult{ResultCd: code, ResultMsg: "ok", Tid: tid}, nil
}
