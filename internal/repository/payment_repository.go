package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/arinwt/lesson-reservation/internal/model"
)

// PaymentRepo reads the payments ledger. Inserts and refund updates run
// inside enrollment transactions (see enrollment_repository.go) so that
// payment state never drifts from enrollment state.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, enroll_id, tid, moid, paid_amt, refunded_amt, pay_method,
	pg_result_code, pg_result_msg, status, paid_at, refund_dt, created_at`

func scanPayment(row interface{ Scan(dest ...any) error }) (model.Payment, error) {
	var p model.Payment
	var refundDt sql.NullTime
	err := row.Scan(
		&p.ID, &p.EnrollID, &p.Tid, &p.Moid, &p.PaidAmt, &p.RefundedAmt,
		&p.PayMethod, &p.PgResultCode, &p.PgResultMsg, &p.Status,
		&p.PaidAt, &refundDt, &p.CreatedAt,
	)
	if refundDt.Valid {
		t := refundDt.Time
		p.RefundDt = &t
	}
	return p, err
}

// FindByTid returns the payment carrying the given gateway transaction
// id, or ErrEnrollmentNotFound when none exists. Used for webhook
// idempotency checks.
func (r *PaymentRepo) FindByTid(ctx context.Context, tid string) (model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tid = ?`, tid))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, ErrEnrollmentNotFound
	}
	return p, err
}

// FindByEnrollID returns the payment settling the given enrollment, or
// ErrEnrollmentNotFound when the enrollment has no capture yet.
func (r *PaymentRepo) FindByEnrollID(ctx context.Context, enrollID uint64) (model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE enroll_id = ?`, enrollID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, ErrEnrollmentNotFound
	}
	return p, err
}

// insertPaymentTx records a capture inside an existing transaction. The
// unique index on tid turns gateway redeliveries into
// ErrAlreadyProcessed.
func insertPaymentTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	const q = `INSERT INTO payments
		(enroll_id, tid, moid, paid_amt, pay_method, pg_result_code, pg_result_msg, status, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		p.EnrollID, p.Tid, p.Moid, p.PaidAmt, p.PayMethod,
		p.PgResultCode, p.PgResultMsg, string(model.PaymentPaid), p.PaidAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrAlreadyProcessed
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.Status = model.PaymentPaid
	return nil
}

// applyRefundTx adds amount to the refunded total inside an existing
// transaction. The guard in the WHERE clause rejects refunds that would
// exceed the captured amount with ErrRefundExceedsPaid.
func applyRefundTx(ctx context.Context, tx *sql.Tx, enrollID uint64, amount int, full bool, now time.Time) error {
	status := model.PaymentPartialRefunded
	if full {
		status = model.PaymentCanceled
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE payments
		 SET refunded_amt = refunded_amt + ?, status = ?, refund_dt = ?
		 WHERE enroll_id = ? AND refunded_amt + ? <= paid_amt`,
		amount, string(status), now, enrollID, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing payment from an over-refund.
		var id uint64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM payments WHERE enroll_id = ?`, enrollID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEnrollmentNotFound
		}
		if err != nil {
			return err
		}
		return ErrRefundExceedsPaid
	}
	return nil
}
