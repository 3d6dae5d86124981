package model

import "time"

// EnrollmentStatus is the coarse lifecycle state of an enrollment row.
// CANCELED and EXPIRED are terminal; rows are never hard-deleted.
type EnrollmentStatus string

const (
	StatusApplied  EnrollmentStatus = "APPLIED"
	StatusCanceled EnrollmentStatus = "CANCELED"
	StatusExpired  EnrollmentStatus = "EXPIRED"
)

// PayStatus tracks the financial state of an enrollment. The UNPAID ->
// PAID transition happens exactly once and is guarded by a conditional
// update in the repository layer; every other transition is driven by
// the cancellation workflow or the expiry sweep.
type PayStatus string

const (
	PayUnpaid            PayStatus = "UNPAID"
	PayPaid              PayStatus = "PAID"
	PayPartialRefunded   PayStatus = "PARTIAL_REFUNDED"
	PayRefunded          PayStatus = "REFUNDED"
	PayTimeout           PayStatus = "PAYMENT_TIMEOUT"
	PayRefundRequested   PayStatus = "REFUND_REQUESTED"
	PayRefundPendingAdmin PayStatus = "REFUND_PENDING_ADMIN_CANCEL"
)

// CancelStatus is the state of the cancellation/refund request attached
// to an enrollment. The legal edges are encoded in cancelEdges below;
// anything not listed there is an invalid transition.
type CancelStatus string

const (
	CancelNone          CancelStatus = "NONE"
	CancelRequested     CancelStatus = "REQ"
	CancelPending       CancelStatus = "PENDING"
	CancelApproved      CancelStatus = "APPROVED"
	CancelDenied        CancelStatus = "DENIED"
	CancelAdminCanceled CancelStatus = "ADMIN_CANCELED"
)

// cancelEdges lists the permitted cancel-status transitions:
//
//	NONE --user request--> REQ
//	REQ  --admin approve (claims the refund)--> PENDING
//	REQ  --admin deny----> DENIED
//	NONE|REQ --admin direct cancel--> ADMIN_CANCELED
//	DENIED --reset-------> NONE   (a denial ends the request, not the row)
//	ADMIN_CANCELED --approve (claims the refund)--> PENDING
//	PENDING --refund settles--> APPROVED
//
// PENDING marks a refund submission in flight at the gateway; exactly
// one approval can hold it at a time. A failed gateway call hands the
// claim back to the status it was taken from, which is a repository
// rollback rather than an edge here, so that nothing else (deny,
// admin cancel, a second approval) can touch the row in between.
// APPROVED is terminal for a request cycle.
var cancelEdges = map[CancelStatus]map[CancelStatus]bool{
	CancelNone:          {CancelRequested: true, CancelAdminCanceled: true},
	CancelRequested:     {CancelPending: true, CancelDenied: true, CancelAdminCanceled: true},
	CancelPending:       {CancelApproved: true},
	CancelDenied:        {CancelNone: true},
	CancelAdminCanceled: {CancelPending: true},
}

// CanTransitionCancel reports whether moving the cancel status from
// `from` to `to` follows a legal edge.
func CanTransitionCancel(from, to CancelStatus) bool {
	return cancelEdges[from][to]
}

// RefundBasisKind records which path produced the persisted refund
// figures: the system proration formula or a direct admin override.
// The distinction is kept for audit purposes.
type RefundBasisKind string

const (
	RefundBasisSystem RefundBasisKind = "SYSTEM"
	RefundBasisAdmin  RefundBasisKind = "ADMIN"
)

// Enrollment is the ledger row recording one user's reservation of one
// lesson slot. It is created UNPAID with a short expiry by the
// reservation flow, promoted to PAID exactly once by the payment
// reconciler, and financially finalized by the cancellation workflow.
//
// Invariants:
//   - at most one active (non-CANCELED/EXPIRED) row per (user, lesson);
//   - ExpireDt is set only while UNPAID;
//   - LockerAllocated=true implies the locker inventory was decremented
//     and must be matched by exactly one increment on release.
type Enrollment struct {
	ID              uint64           // enrollments.id
	UserID          uint64           // enrollments.user_id
	LessonID        uint64           // enrollments.lesson_id
	Status          EnrollmentStatus // enrollments.status
	PayStatus       PayStatus        // enrollments.pay_status
	CancelStatus    CancelStatus     // enrollments.cancel_status
	ExpireDt        *time.Time       // enrollments.expire_dt (nullable)
	UsesLocker      bool             // enrollments.uses_locker
	LockerAllocated bool             // enrollments.locker_allocated
	FinalAmount     int              // enrollments.final_amount (KRW actually charged)
	DiscountType    string           // enrollments.discount_type ("" when none)
	DiscountPct     int              // enrollments.discount_applied_pct
	RefundAmount    *int             // enrollments.refund_amount (nullable)
	DaysUsedForRefund *int           // enrollments.days_used_for_refund (nullable)
	RefundBasis     RefundBasisKind  // enrollments.refund_basis ("" until a refund settles)
	CancelReason    string           // enrollments.cancel_reason
	AdminComment    string           // enrollments.admin_comment
	CancelRequestedAt *time.Time     // enrollments.cancel_requested_at
	CancelApprovedAt  *time.Time     // enrollments.cancel_approved_at
	CreatedIP       string           // enrollments.created_ip
	CreatedAt       time.Time        // enrollments.created_at
	UpdatedAt       time.Time        // enrollments.updated_at
}

// Active reports whether this enrollment occupies a capacity slot at
// the given instant: paid, or unpaid with its payment window still open.
func (e Enrollment) Active(now time.Time) bool {
	if e.Status == StatusCanceled || e.Status == StatusExpired {
		return false
	}
	switch e.PayStatus {
	case PayPaid, PayRefundRequested, PayRefundPendingAdmin:
		return true
	case PayUnpaid:
		return e.ExpireDt != nil && e.ExpireDt.After(now)
	default:
		return false
	}
}
