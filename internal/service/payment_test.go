package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/arinwt/lesson-reservation/internal/gateway"
	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/queue"
	"github.com/arinwt/lesson-reservation/internal/repository"
)

func testGatewayClient() *gateway.Client {
	return gateway.NewClient(gateway.Config{
		MID:         "testmid01",
		MerchantKey: "secret-key",
	})
}

// notifyFor builds a correctly signed approval notification for an
// enrollment.
func notifyFor(gw *gateway.Client, e model.Enrollment, tid string) gateway.Notification {
	n := gateway.Notification{
		Mid:        "testmid01",
		Tid:        tid,
		Moid:       "enroll_" + strconv.FormatUint(e.ID, 10) + "_1770000000000",
		Amt:        strconv.Itoa(e.FinalAmount),
		ResultCode: "0000",
		PayMethod:  "card",
	}
	n.EncData = gw.SignNotification(n)
	return n
}

type paymentFixture struct {
	store  *fakeStore
	resv   *ReservationService
	pays   *PaymentService
	gw     *gateway.Client
	events *capturePublisher
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := newFakeStore()
	f.addLesson(testLesson(1, 5))
	f.addUser(model.User{ID: 7, Name: "Kim", Phone: "010-1234-5678", Gender: model.GenderFemale})
	f.setLockers(model.GenderFemale, 2, 0)

	gw := testGatewayClient()
	events := &capturePublisher{}
	pays := NewPaymentService(f, lessonStoreFunc{f}, userStoreFunc{f}, gw, events)
	pays.now = func() time.Time { return testNow }

	return &paymentFixture{
		store:  f,
		resv:   newTestReservation(f),
		pays:   pays,
		gw:     gw,
		events: events,
	}
}

func (fx *paymentFixture) reserve(t *testing.T, in ReserveInput) model.Enrollment {
	t.Helper()
	e, err := fx.resv.Reserve(context.Background(), in)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	return *e
}

func TestHandleNotificationConfirmsAndAllocatesLocker(t *testing.T) {
	fx := newPaymentFixture(t)
	e := fx.reserve(t, ReserveInput{UserID: 7, LessonID: 1, UsesLocker: true})

	if err := fx.pays.HandleNotification(context.Background(), notifyFor(fx.gw, e, "tid-1")); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}

	got := fx.store.enrollment(e.ID)
	if got.PayStatus != model.PayPaid {
		t.Errorf("pay status = %q, want PAID", got.PayStatus)
	}
	if got.ExpireDt != nil {
		t.Errorf("expire dt = %v, want cleared", got.ExpireDt)
	}
	if !got.LockerAllocated {
		t.Error("locker not allocated despite free pool")
	}
	if used := fx.store.lockerUsed(model.GenderFemale); used != 1 {
		t.Errorf("locker used = %d, want 1", used)
	}
	if pay := fx.store.payment(e.ID); pay.Tid != "tid-1" || pay.PaidAmt != e.FinalAmount {
		t.Errorf("payment = %+v", pay)
	}
	if len(fx.events.byType("enrollment.paid")) != 1 {
		t.Errorf("paid events = %d, want 1", len(fx.events.byType("enrollment.paid")))
	}
}

func TestHandleNotificationIdempotent(t *testing.T) {
	fx := newPaymentFixture(t)
	e := fx.reserve(t, ReserveInput{UserID: 7, LessonID: 1})
	n := notifyFor(fx.gw, e, "tid-1")

	if err := fx.pays.HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	err := fx.pays.HandleNotification(context.Background(), n)
	if !errors.Is(err, repository.ErrAlreadyProcessed) {
		t.Fatalf("redelivery err = %v, want ErrAlreadyProcessed", err)
	}
	if !IsAcknowledgeable(err) {
		t.Error("redelivery must be acknowledgeable")
	}
	if pay := fx.store.payment(e.ID); pay.PaidAmt != e.FinalAmount {
		t.Errorf("payment changed on redelivery: %+v", pay)
	}
	if n := len(fx.events.byType("enrollment.paid")); n != 1 {
		t.Errorf("paid events = %d, want 1 despite redelivery", n)
	}
}

func TestHandleNotificationRejectsTamperedAmount(t *testing.T) {
	fx := newPaymentFixture(t)
	e := fx.reserve(t, ReserveInput{UserID: 7, LessonID: 1})

	// Signed for a different amount than quoted.
	n := gateway.Notification{
		Mid: "testmid01", Tid: "tid-1",
		Moid:       "enroll_" + strconv.FormatUint(e.ID, 10) + "_1770000000000",
		Amt:        "1", ResultCode: "0000",
	}
	n.EncData = fx.gw.SignNotification(n)
	if err := fx.pays.HandleNotification(context.Background(), n); !errors.Is(err, repository.ErrAmountMismatch) {
		t.Errorf("err = %v, want ErrAmountMismatch", err)
	}
	if got := fx.store.enrollment(e.ID); got.PayStatus != model.PayUnpaid {
		t.Errorf("pay status changed to %q", got.PayStatus)
	}

	// Unsigned tampering fails earlier, at the signature.
	bad := notifyFor(fx.gw, e, "tid-2")
	bad.Amt = "999999"
	if err := fx.pays.HandleNotification(context.Background(), bad); !errors.Is(err, gateway.ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestSweepBeatsLatePayment(t *testing.T) {
	fx := newPaymentFixture(t)
	e := fx.reserve(t, ReserveInput{UserID: 7, LessonID: 1})

	sweeper := NewExpirySweeper(fx.store)
	sweeper.now = func() time.Time { return testNow.Add(10 * time.Minute) }
	if _, err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	err := fx.pays.HandleNotification(context.Background(), notifyFor(fx.gw, e, "tid-1"))
	if !errors.Is(err, repository.ErrReservationExpired) {
		t.Fatalf("err = %v, want ErrReservationExpired", err)
	}
	got := fx.store.enrollment(e.ID)
	if got.Status != model.StatusExpired || got.PayStatus != model.PayTimeout {
		t.Errorf("row = %q/%q, want EXPIRED/PAYMENT_TIMEOUT", got.Status, got.PayStatus)
	}

	// The money is captured at the gateway with no slot to settle it
	// against. Acknowledging stops the redelivery loop; the orphaned
	// capture goes to staff over the event bus instead.
	if !IsAcknowledgeable(err) {
		t.Error("expired capture must be acknowledgeable")
	}
	orphans := fx.events.byType("payment.orphaned")
	if len(orphans) != 1 {
		t.Fatalf("payment.orphaned events = %d, want 1", len(orphans))
	}
	ev, ok := orphans[0].Payload.(queue.OrphanedPaymentEvent)
	if !ok {
		t.Fatalf("payload type = %T", orphans[0].Payload)
	}
	if ev.EnrollID != e.ID || ev.Tid != "tid-1" || ev.Amount != e.FinalAmount {
		t.Errorf("orphan event = %+v", ev)
	}
	if n := len(fx.events.byType("enrollment.paid")); n != 0 {
		t.Errorf("paid events = %d, want 0 for an expired capture", n)
	}
}

func TestLatePaymentBeatsSweep(t *testing.T) {
	fx := newPaymentFixture(t)
	e := fx.reserve(t, ReserveInput{UserID: 7, LessonID: 1})

	// The payment lands after the window but before the sweep runs.
	// The conditional update does not look at expire_dt, so it wins.
	fx.pays.now = func() time.Time { return testNow.Add(10 * time.Minute) }
	if err := fx.pays.HandleNotification(context.Background(), notifyFor(fx.gw, e, "tid-1")); err != nil {
		t.Fatalf("late payment: %v", err)
	}

	sweeper := NewExpirySweeper(fx.store)
	sweeper.now = func() time.Time { return testNow.Add(11 * time.Minute) }
	n, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("sweep reclaimed %d rows, want 0 after payment won", n)
	}
	if got := fx.store.enrollment(e.ID); got.PayStatus != model.PayPaid {
		t.Errorf("pay status = %q, want PAID", got.PayStatus)
	}
}

func TestLockerExhaustedPaymentStillSucceeds(t *testing.T) {
	fx := newPaymentFixture(t)
	fx.store.setLockers(model.GenderFemale, 1, 1) // pool full
	e := fx.reserve(t, ReserveInput{UserID: 7, LessonID: 1, UsesLocker: true})

	if err := fx.pays.HandleNotification(context.Background(), notifyFor(fx.gw, e, "tid-1")); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	got := fx.store.enrollment(e.ID)
	if got.PayStatus != model.PayPaid {
		t.Errorf("pay status = %q, want PAID even without a locker", got.PayStatus)
	}
	if got.LockerAllocated {
		t.Error("locker flagged allocated on an exhausted pool")
	}
	if used := fx.store.lockerUsed(model.GenderFemale); used != 1 {
		t.Errorf("locker used = %d, want unchanged 1", used)
	}
	if n := len(fx.events.byType("locker.exhausted")); n != 1 {
		t.Errorf("locker.exhausted events = %d, want 1", n)
	}
}

func TestInitPaymentOwnershipAndState(t *testing.T) {
	fx := newPaymentFixture(t)
	e := fx.reserve(t, ReserveInput{UserID: 7, LessonID: 1})

	p, err := fx.pays.InitPayment(context.Background(), e.ID, 7, "203.0.113.9")
	if err != nil {
		t.Fatalf("InitPayment: %v", err)
	}
	if p.Amt != strconv.Itoa(e.FinalAmount) {
		t.Errorf("amt = %q, want %d", p.Amt, e.FinalAmount)
	}
	if id, err := gateway.ParseMoid(p.Moid); err != nil || id != e.ID {
		t.Errorf("moid = %q (id=%d err=%v)", p.Moid, id, err)
	}

	if _, err := fx.pays.InitPayment(context.Background(), e.ID, 8, ""); !errors.Is(err, repository.ErrForbidden) {
		t.Errorf("foreign user err = %v, want ErrForbidden", err)
	}

	fx.pays.now = func() time.Time { return testNow.Add(10 * time.Minute) }
	if _, err := fx.pays.InitPayment(context.Background(), e.ID, 7, ""); !errors.Is(err, repository.ErrReservationExpired) {
		t.Errorf("expired window err = %v, want ErrReservationExpired", err)
	}
}
