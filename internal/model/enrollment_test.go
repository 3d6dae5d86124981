package model

import (
	"testing"
	"time"
)

func TestCanTransitionCancel(t *testing.T) {
	legal := []struct{ from, to CancelStatus }{
		{CancelNone, CancelRequested},
		{CancelNone, CancelAdminCanceled},
		{CancelRequested, CancelPending},
		{CancelRequested, CancelDenied},
		{CancelRequested, CancelAdminCanceled},
		{CancelPending, CancelApproved},
		{CancelDenied, CancelNone},
		{CancelAdminCanceled, CancelPending},
	}
	for _, e := range legal {
		if !CanTransitionCancel(e.from, e.to) {
			t.Errorf("%s -> %s should be legal", e.from, e.to)
		}
	}

	illegal := []struct{ from, to CancelStatus }{
		{CancelNone, CancelApproved},
		{CancelNone, CancelDenied},
		{CancelRequested, CancelApproved},
		{CancelPending, CancelPending},
		{CancelPending, CancelDenied},
		{CancelPending, CancelAdminCanceled},
		{CancelApproved, CancelRequested},
		{CancelApproved, CancelNone},
		{CancelDenied, CancelApproved},
		{CancelDenied, CancelDenied},
		{CancelAdminCanceled, CancelApproved},
		{CancelAdminCanceled, CancelRequested},
		{CancelAdminCanceled, CancelDenied},
	}
	for _, e := range illegal {
		if CanTransitionCancel(e.from, e.to) {
			t.Errorf("%s -> %s should be rejected", e.from, e.to)
		}
	}
}

func TestEnrollmentActive(t *testing.T) {
	now := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	soon := now.Add(3 * time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name string
		e    Enrollment
		want bool
	}{
		{"paid", Enrollment{Status: StatusApplied, PayStatus: PayPaid}, true},
		{"refund requested still holds slot", Enrollment{Status: StatusApplied, PayStatus: PayRefundRequested}, true},
		{"pending admin cancel still holds slot", Enrollment{Status: StatusApplied, PayStatus: PayRefundPendingAdmin}, true},
		{"unpaid inside window", Enrollment{Status: StatusApplied, PayStatus: PayUnpaid, ExpireDt: &soon}, true},
		{"unpaid past window", Enrollment{Status: StatusApplied, PayStatus: PayUnpaid, ExpireDt: &past}, false},
		{"unpaid without expiry", Enrollment{Status: StatusApplied, PayStatus: PayUnpaid}, false},
		{"expired", Enrollment{Status: StatusExpired, PayStatus: PayTimeout}, false},
		{"canceled", Enrollment{Status: StatusCanceled, PayStatus: PayRefunded}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.Active(now); got != tt.want {
				t.Errorf("Active = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLessonTotalDays(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC) }
	if got := (Lesson{StartDate: d(1), EndDate: d(20)}).TotalDays(); got != 20 {
		t.Errorf("TotalDays = %d, want 20", got)
	}
	if got := (Lesson{StartDate: d(1), EndDate: d(1)}).TotalDays(); got != 1 {
		t.Errorf("single day TotalDays = %d, want 1", got)
	}
}
