// Package queue defines message payloads exchanged over the message broker.
package queue

// Event type names carried in the envelope's "type" field.
const (
	TypeEnrollmentPaid  = "enrollment.paid"
	TypeRefundProcessed = "enrollment.refunded"
	TypeLockerExhausted = "locker.exhausted"
	TypePaymentOrphaned = "payment.orphaned"
)

// Envelope wraps every published message so one durable queue can carry
// all event kinds. Payload holds the type-specific event.
type Envelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"` // uuid, for consumer-side dedup
	Payload any    `json:"payload"`
}

// EnrollmentPaidEvent is published after a gateway capture settles an
// enrollment. It carries enough for downstream consumers to log or
// notify without querying the primary database.
type EnrollmentPaidEvent struct {
	EnrollID        uint64 `json:"enroll_id"`
	UserID          uint64 `json:"user_id"`
	LessonID        uint64 `json:"lesson_id"`
	LessonTitle     string `json:"lesson_title"`
	Amount          int    `json:"amount"`
	Tid             string `json:"tid"`
	Moid            string `json:"moid"`
	LockerRequested bool   `json:"locker_requested"`
	LockerAllocated bool   `json:"locker_allocated"`
	PaidAt          string `json:"paid_at"`
}

// RefundProcessedEvent is published after a refund settles, whether
// computed by the system or set by an admin.
type RefundProcessedEvent struct {
	EnrollID     uint64 `json:"enroll_id"`
	UserID       uint64 `json:"user_id"`
	LessonID     uint64 `json:"lesson_id"`
	RefundAmount int    `json:"refund_amount"`
	FullRefund   bool   `json:"full_refund"`
	Basis        string `json:"basis"`
	ProcessedAt  string `json:"processed_at"`
}

// LockerExhaustedEvent is published when a payment succeeded but no
// locker was left in the requested pool. The case needs manual
// follow-up by facility staff.
type LockerExhaustedEvent struct {
	EnrollID   uint64 `json:"enroll_id"`
	UserID     uint64 `json:"user_id"`
	Gender     string `json:"gender"`
	OccurredAt string `json:"occurred_at"`
}

// OrphanedPaymentEvent is published when the gateway captured money
// for an enrollment whose slot was already reclaimed by the expiry
// sweep. The capture is real and has no enrollment to settle against;
// staff refund it manually through the gateway console.
type OrphanedPaymentEvent struct {
	EnrollID   uint64 `json:"enroll_id"`
	UserID     uint64 `json:"user_id"`
	Tid        string `json:"tid"`
	Moid       string `json:"moid"`
	Amount     int    `json:"amount"`
	OccurredAt string `json:"occurred_at"`
}
