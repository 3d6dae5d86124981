package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arinwt/lesson-reservation/internal/model"
	"github.com/arinwt/lesson-reservation/internal/repository"
)

var testNow = time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)

func testLesson(id uint64, capacity int) model.Lesson {
	return model.Lesson{
		ID:         id,
		Title:      "Morning Swim",
		Capacity:   capacity,
		Price:      100000,
		StartDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		RegStartAt: testNow.Add(-24 * time.Hour),
		RegEndAt:   testNow.Add(24 * time.Hour),
	}
}

func newTestReservation(f *fakeStore) *ReservationService {
	s := NewReservationService(f, lessonStoreFunc{f}, userStoreFunc{f}, 5*time.Minute, 10000)
	s.now = func() time.Time { return testNow }
	return s
}

func TestReserveHappyPath(t *testing.T) {
	f := newFakeStore()
	f.addLesson(testLesson(1, 10))
	f.addUser(model.User{ID: 7, Gender: model.GenderFemale})
	s := newTestReservation(f)

	e, err := s.Reserve(context.Background(), ReserveInput{
		UserID: 7, LessonID: 1, UsesLocker: true, ClientIP: "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if e.PayStatus != model.PayUnpaid {
		t.Errorf("pay status = %q, want UNPAID", e.PayStatus)
	}
	if e.FinalAmount != 110000 {
		t.Errorf("final amount = %d, want 110000 (lesson + locker)", e.FinalAmount)
	}
	if e.ExpireDt == nil || !e.ExpireDt.Equal(testNow.Add(5*time.Minute)) {
		t.Errorf("expire dt = %v, want now+5m", e.ExpireDt)
	}
	if e.LockerAllocated {
		t.Error("locker must not be committed at reservation time")
	}
}

func TestReserveAppliesDiscount(t *testing.T) {
	f := newFakeStore()
	f.addLesson(testLesson(1, 10))
	s := newTestReservation(f)

	e, err := s.Reserve(context.Background(), ReserveInput{
		UserID: 7, LessonID: 1, DiscountType: "multi_child",
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if e.FinalAmount != 80000 {
		t.Errorf("final amount = %d, want 80000 (20%% off)", e.FinalAmount)
	}
	if e.DiscountPct != 20 || e.DiscountType != "MULTI_CHILD" {
		t.Errorf("discount = %q/%d", e.DiscountType, e.DiscountPct)
	}
}

func TestReserveLastSlotRace(t *testing.T) {
	f := newFakeStore()
	f.addLesson(testLesson(1, 1))
	s := newTestReservation(f)

	const contenders = 8
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Reserve(context.Background(), ReserveInput{
				UserID: uint64(100 + i), LessonID: 1,
			})
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, repository.ErrCapacityExceeded):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1 for capacity 1", won)
	}
}

func TestReserveDuplicateAndClosedWindow(t *testing.T) {
	f := newFakeStore()
	f.addLesson(testLesson(1, 10))
	closed := testLesson(2, 10)
	closed.RegEndAt = testNow.Add(-time.Hour)
	f.addLesson(closed)
	s := newTestReservation(f)

	if _, err := s.Reserve(context.Background(), ReserveInput{UserID: 7, LessonID: 1}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := s.Reserve(context.Background(), ReserveInput{UserID: 7, LessonID: 1}); !errors.Is(err, repository.ErrAlreadyEnrolled) {
		t.Errorf("duplicate: err = %v, want ErrAlreadyEnrolled", err)
	}
	if _, err := s.Reserve(context.Background(), ReserveInput{UserID: 7, LessonID: 2}); !errors.Is(err, repository.ErrRegistrationClosed) {
		t.Errorf("closed window: err = %v, want ErrRegistrationClosed", err)
	}
}

func TestReserveLockerNeedsGender(t *testing.T) {
	f := newFakeStore()
	f.addLesson(testLesson(1, 10))
	f.addUser(model.User{ID: 7}) // no gender on profile
	s := newTestReservation(f)

	if _, err := s.Reserve(context.Background(), ReserveInput{UserID: 7, LessonID: 1, UsesLocker: true}); !errors.Is(err, repository.ErrLockerUnavailable) {
		t.Errorf("err = %v, want ErrLockerUnavailable", err)
	}
}

func TestExpiredSlotIsReusable(t *testing.T) {
	f := newFakeStore()
	f.addLesson(testLesson(1, 1))
	s := newTestReservation(f)

	if _, err := s.Reserve(context.Background(), ReserveInput{UserID: 1, LessonID: 1}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// Window still open: the slot is occupied.
	if _, err := s.Reserve(context.Background(), ReserveInput{UserID: 2, LessonID: 1}); !errors.Is(err, repository.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}

	// After the sweep reclaims the expired hold the slot frees up.
	sweeper := NewExpirySweeper(f)
	sweeper.now = func() time.Time { return testNow.Add(6 * time.Minute) }
	n, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep expired %d rows, want 1", n)
	}

	s.now = func() time.Time { return testNow.Add(6 * time.Minute) }
	if _, err := s.Reserve(context.Background(), ReserveInput{UserID: 2, LessonID: 1}); err != nil {
		t.Errorf("reserve after expiry: %v", err)
	}
}
