package model

import "time"

// PaymentStatus mirrors the gateway-facing state of a captured payment.
type PaymentStatus string

const (
	PaymentPaid            PaymentStatus = "PAID"
	PaymentPartialRefunded PaymentStatus = "PARTIAL_REFUNDED"
	PaymentCanceled        PaymentStatus = "CANCELED"
	PaymentFailed          PaymentStatus = "FAILED"
	PaymentRefundRequested PaymentStatus = "REFUND_REQUESTED"
)

// Payment is the record of a single gateway capture, 1:1 with the
// enrollment that triggered it. Tid is the gateway-side transaction id
// assigned after capture; Moid is our order id and embeds the
// enrollment id. RefundedAmt accumulates across partial refunds and
// never exceeds PaidAmt.
//
// Fields:
//  ID          – primary key identifier.
//  EnrollID    – enrollment this payment settles.
//  Tid         – gateway transaction id (unique).
//  Moid        – merchant order id ("enroll_<id>_<unixms>").
//  PaidAmt     – captured amount in KRW.
//  RefundedAmt – total refunded so far in KRW.
//  PayMethod   – gateway payment method (CARD, VBANK, ...).
//  PgResultCode/PgResultMsg – last gateway result for this payment.
//  Status      – current payment status.
//  PaidAt      – capture timestamp.
//  RefundDt    – timestamp of the most recent refund (nullable).
type Payment struct {
	ID           uint64        // payments.id
	EnrollID     uint64        // payments.enroll_id
	Tid          string        // payments.tid
	Moid         string        // payments.moid
	PaidAmt      int           // payments.paid_amt
	RefundedAmt  int           // payments.refunded_amt
	PayMethod    string        // payments.pay_method
	PgResultCode string        // payments.pg_result_code
	PgResultMsg  string        // payments.pg_result_msg
	Status       PaymentStatus // payments.status
	PaidAt       time.Time     // payments.paid_at
	RefundDt     *time.Time    // payments.refund_dt (nullable)
	CreatedAt    time.Time     // payments.created_at
}
