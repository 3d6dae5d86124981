package refund

import (
	"errors"
	"testing"
	"time"

	"github.com/arinwt/lesson-reservation/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func lesson(start, end time.Time) model.Lesson {
	return model.Lesson{StartDate: start, EndDate: end}
}

func TestComputeSystemProration(t *testing.T) {
	start := day(2026, 3, 1)
	end := day(2026, 3, 20) // 20-day lesson

	tests := []struct {
		name       string
		paid       int
		locker     int
		now        time.Time
		wantUsed   int
		wantDeduct int
		wantLocker int
		wantFinal  int
		wantFull   bool
	}{
		{
			name:       "five of twenty days used",
			paid:       100000,
			now:        day(2026, 3, 5),
			wantUsed:   5,
			wantDeduct: 25000,
			wantFinal:  75000,
		},
		{
			name:      "before start is a full refund",
			paid:      100000,
			locker:    10000,
			now:       day(2026, 2, 20),
			wantFinal: 100000,
			wantFull:  true,
		},
		{
			name:       "locker fee forfeited once started",
			paid:       110000,
			locker:     10000,
			now:        day(2026, 3, 5),
			wantUsed:   5,
			wantDeduct: 25000,
			wantLocker: 10000,
			wantFinal:  75000,
		},
		{
			name:       "after end clamps used days to total",
			paid:       100000,
			now:        day(2026, 4, 15),
			wantUsed:   20,
			wantDeduct: 100000,
			wantFinal:  0,
		},
		{
			name:       "first day counts as used",
			paid:       100000,
			now:        start,
			wantUsed:   1,
			wantDeduct: 5000,
			wantFinal:  95000,
		},
		{
			name:       "rounding is half-up",
			paid:       100001,
			now:        day(2026, 3, 5),
			wantUsed:   5,
			wantDeduct: 25000, // 100001*5/20 = 25000.25
			wantFinal:  75001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(Input{
				Lesson:       lesson(start, end),
				PaidAmount:   tt.paid,
				LockerAmount: tt.locker,
				Now:          tt.now,
			}, SystemComputed{})
			if err != nil {
				t.Fatalf("Compute returned error: %v", err)
			}
			if got.EffectiveUsedDays != tt.wantUsed {
				t.Errorf("used days = %d, want %d", got.EffectiveUsedDays, tt.wantUsed)
			}
			if got.LessonDeduction != tt.wantDeduct {
				t.Errorf("lesson deduction = %d, want %d", got.LessonDeduction, tt.wantDeduct)
			}
			if got.LockerDeduction != tt.wantLocker {
				t.Errorf("locker deduction = %d, want %d", got.LockerDeduction, tt.wantLocker)
			}
			if got.FinalAmount != tt.wantFinal {
				t.Errorf("final amount = %d, want %d", got.FinalAmount, tt.wantFinal)
			}
			if got.FullRefund != tt.wantFull {
				t.Errorf("full refund = %v, want %v", got.FullRefund, tt.wantFull)
			}
			if got.Basis != model.RefundBasisSystem {
				t.Errorf("basis = %q, want SYSTEM", got.Basis)
			}
		})
	}
}

func TestComputeManualUsedDays(t *testing.T) {
	l := lesson(day(2026, 3, 1), day(2026, 3, 20))
	now := day(2026, 3, 10)

	manual := 2
	got, err := Compute(Input{Lesson: l, PaidAmount: 100000, Now: now},
		SystemComputed{ManualUsedDays: &manual})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got.SystemUsedDays != 10 {
		t.Errorf("system used days = %d, want 10", got.SystemUsedDays)
	}
	if got.EffectiveUsedDays != 2 {
		t.Errorf("effective used days = %d, want 2", got.EffectiveUsedDays)
	}
	if got.FinalAmount != 90000 {
		t.Errorf("final amount = %d, want 90000", got.FinalAmount)
	}

	// Manual values outside the valid range are clamped.
	over := 999
	got, err = Compute(Input{Lesson: l, PaidAmount: 100000, Now: now},
		SystemComputed{ManualUsedDays: &over})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got.EffectiveUsedDays != 20 || got.FinalAmount != 0 {
		t.Errorf("over-range manual days: used=%d final=%d, want 20/0",
			got.EffectiveUsedDays, got.FinalAmount)
	}

	neg := -3
	got, err = Compute(Input{Lesson: l, PaidAmount: 100000, Now: now},
		SystemComputed{ManualUsedDays: &neg})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got.EffectiveUsedDays != 0 || !got.FullRefund {
		t.Errorf("negative manual days: used=%d full=%v, want 0/true",
			got.EffectiveUsedDays, got.FullRefund)
	}
}

func TestComputeAdminOverride(t *testing.T) {
	l := lesson(day(2026, 3, 1), day(2026, 3, 20))
	in := Input{Lesson: l, PaidAmount: 50000, Now: day(2026, 3, 10)}

	got, err := Compute(in, AdminOverridden{Amount: 12345})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got.FinalAmount != 12345 {
		t.Errorf("final amount = %d, want 12345", got.FinalAmount)
	}
	if got.Basis != model.RefundBasisAdmin {
		t.Errorf("basis = %q, want ADMIN", got.Basis)
	}
	if got.LessonDeduction != 0 {
		t.Errorf("override must not compute deductions, got %d", got.LessonDeduction)
	}

	if _, err := Compute(in, AdminOverridden{Amount: 50001}); !errors.Is(err, ErrExceedsPaid) {
		t.Errorf("over-paid override: err = %v, want ErrExceedsPaid", err)
	}

	got, err = Compute(in, AdminOverridden{Amount: -100})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got.FinalAmount != 0 {
		t.Errorf("negative override floored: got %d, want 0", got.FinalAmount)
	}
}

func TestComputeBounds(t *testing.T) {
	l := lesson(day(2026, 3, 1), day(2026, 3, 20))

	// Sweep the whole lesson window; the refund must stay within
	// [0, paid] at every instant.
	for d := -5; d <= 30; d++ {
		now := day(2026, 3, 1).AddDate(0, 0, d)
		got, err := Compute(Input{Lesson: l, PaidAmount: 77777, LockerAmount: 7000, Now: now},
			SystemComputed{})
		if err != nil {
			t.Fatalf("day %d: %v", d, err)
		}
		if got.FinalAmount < 0 || got.FinalAmount > 77777 {
			t.Errorf("day %d: final amount %d out of range", d, got.FinalAmount)
		}
	}
}

func TestComputeSingleDayLesson(t *testing.T) {
	d := day(2026, 3, 1)
	got, err := Compute(Input{Lesson: lesson(d, d), PaidAmount: 30000, Now: d},
		SystemComputed{})
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got.TotalDays != 1 {
		t.Errorf("total days = %d, want 1", got.TotalDays)
	}
	if got.FinalAmount != 0 {
		t.Errorf("final amount = %d, want 0 (whole lesson used)", got.FinalAmount)
	}
}
