package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/arinwt/lesson-reservation/internal/model"
)

// EnrollmentRepo owns the enrollments ledger and the transactions that
// move it. Every state change is a conditional update whose WHERE
// clause names the expected current state; the affected-row count
// decides who won a race, never a prior read.
type EnrollmentRepo struct {
	db *sql.DB
}

// NewEnrollmentRepo returns a new EnrollmentRepo bound to the given
// database.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

const enrollColumns = `id, user_id, lesson_id, status, pay_status, cancel_status,
	expire_dt, uses_locker, locker_allocated, final_amount, discount_type,
	discount_applied_pct, refund_amount, days_used_for_refund, refund_basis,
	cancel_reason, admin_comment, cancel_requested_at, cancel_approved_at,
	created_ip, created_at, updated_at`

func scanEnrollment(row interface{ Scan(dest ...any) error }) (model.Enrollment, error) {
	var e model.Enrollment
	var expireDt, reqAt, apprAt sql.NullTime
	var refundAmt, daysUsed sql.NullInt64
	var discountType, refundBasis, cancelReason, adminComment sql.NullString
	err := row.Scan(
		&e.ID, &e.UserID, &e.LessonID, &e.Status, &e.PayStatus, &e.CancelStatus,
		&expireDt, &e.UsesLocker, &e.LockerAllocated, &e.FinalAmount, &discountType,
		&e.DiscountPct, &refundAmt, &daysUsed, &refundBasis,
		&cancelReason, &adminComment, &reqAt, &apprAt,
		&e.CreatedIP, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}
	if expireDt.Valid {
		t := expireDt.Time
		e.ExpireDt = &t
	}
	if reqAt.Valid {
		t := reqAt.Time
		e.CancelRequestedAt = &t
	}
	if apprAt.Valid {
		t := apprAt.Time
		e.CancelApprovedAt = &t
	}
	if refundAmt.Valid {
		v := int(refundAmt.Int64)
		e.RefundAmount = &v
	}
	if daysUsed.Valid {
		v := int(daysUsed.Int64)
		e.DaysUsedForRefund = &v
	}
	e.DiscountType = discountType.String
	e.RefundBasis = model.RefundBasisKind(refundBasis.String)
	e.CancelReason = cancelReason.String
	e.AdminComment = adminComment.String
	return e, nil
}

// occupiedCountQ counts the enrollments currently holding a capacity
// slot for one lesson: paid (including those awaiting a refund
// decision) plus unpaid rows whose payment window is still open.
const occupiedCountQ = `SELECT COUNT(*) FROM enrollments
	WHERE lesson_id = ? AND status = 'APPLIED'
	  AND (pay_status IN ('PAID','REFUND_REQUESTED','REFUND_PENDING_ADMIN_CANCEL')
	       OR (pay_status = 'UNPAID' AND expire_dt > ?))`

// ReserveParams carries the inputs for ReserveSlot.
type ReserveParams struct {
	UserID       uint64
	LessonID     uint64
	UsesLocker   bool
	FinalAmount  int
	DiscountType string
	DiscountPct  int
	CreatedIP    string
	ExpireAt     time.Time
	Now          time.Time
}

// ReserveSlot admits one UNPAID enrollment under the lesson's capacity
// ceiling. The lesson row is locked FOR UPDATE for the duration of the
// transaction so concurrent reservations against the same lesson
// serialize; the occupancy count therefore cannot go stale between the
// check and the insert.
//
// Returns ErrLessonNotFound, ErrRegistrationClosed, ErrAlreadyEnrolled,
// ErrCapacityExceeded or ErrDeadlock.
func (r *EnrollmentRepo) ReserveSlot(ctx context.Context, p ReserveParams) (*model.Enrollment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	lesson, err := lockLessonTx(ctx, tx, p.LessonID)
	if err != nil {
		return nil, translateLockErr(err)
	}
	if !lesson.RegistrationOpen(p.Now) {
		return nil, ErrRegistrationClosed
	}

	// One active row per (user, lesson).
	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments
		 WHERE user_id = ? AND lesson_id = ? AND status = 'APPLIED'
		   AND (pay_status <> 'UNPAID' OR expire_dt > ?)`,
		p.UserID, p.LessonID, p.Now).Scan(&dup)
	if err != nil {
		return nil, translateLockErr(err)
	}
	if dup > 0 {
		return nil, ErrAlreadyEnrolled
	}

	var occupied int
	if err := tx.QueryRowContext(ctx, occupiedCountQ, p.LessonID, p.Now).Scan(&occupied); err != nil {
		return nil, translateLockErr(err)
	}
	if occupied >= lesson.Capacity {
		return nil, ErrCapacityExceeded
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO enrollments
		 (user_id, lesson_id, status, pay_status, cancel_status, expire_dt,
		  uses_locker, final_amount, discount_type, discount_applied_pct, created_ip)
		 VALUES (?, ?, 'APPLIED', 'UNPAID', 'NONE', ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.LessonID, p.ExpireAt, p.UsesLocker,
		p.FinalAmount, p.DiscountType, p.DiscountPct, p.CreatedIP)
	if err != nil {
		return nil, translateLockErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	enr, err := scanEnrollment(tx.QueryRowContext(ctx,
		`SELECT `+enrollColumns+` FROM enrollments WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translateLockErr(err)
	}
	committed = true
	return &enr, nil
}

// GetByID fetches a single enrollment, returning ErrEnrollmentNotFound
// when no row matches.
func (r *EnrollmentRepo) GetByID(ctx context.Context, id uint64) (model.Enrollment, error) {
	e, err := scanEnrollment(r.db.QueryRowContext(ctx,
		`SELECT `+enrollColumns+` FROM enrollments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Enrollment{}, ErrEnrollmentNotFound
	}
	return e, err
}

// ListByUser returns a user's enrollments, newest first.
func (r *EnrollmentRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Enrollment, error) {
	return r.list(ctx,
		`SELECT `+enrollColumns+` FROM enrollments WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID)
}

// ListByLesson returns every enrollment for a lesson, newest first.
func (r *EnrollmentRepo) ListByLesson(ctx context.Context, lessonID uint64) ([]model.Enrollment, error) {
	return r.list(ctx,
		`SELECT `+enrollColumns+` FROM enrollments WHERE lesson_id = ? ORDER BY created_at DESC, id DESC`,
		lessonID)
}

// ListCancelRequests returns enrollments awaiting an admin decision,
// oldest request first. PENDING rows are included so a claim orphaned
// by a crash mid-approval stays visible to staff.
func (r *EnrollmentRepo) ListCancelRequests(ctx context.Context) ([]model.Enrollment, error) {
	return r.list(ctx,
		`SELECT `+enrollColumns+` FROM enrollments
		 WHERE cancel_status IN ('REQ','PENDING','ADMIN_CANCELED') AND status = 'APPLIED'
		 ORDER BY cancel_requested_at ASC, id ASC`)
}

func (r *EnrollmentRepo) list(ctx context.Context, q string, args ...any) ([]model.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Enrollment, 0)
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountOccupied returns the number of capacity slots currently taken
// for a lesson.
func (r *EnrollmentRepo) CountOccupied(ctx context.Context, lessonID uint64, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, occupiedCountQ, lessonID, now).Scan(&n)
	return n, err
}

// ConfirmParams carries the inputs for ConfirmPayment.
type ConfirmParams struct {
	EnrollID uint64
	Payment  model.Payment
	// LockerGender, when non-nil, asks for a locker from that pool.
	LockerGender *model.Gender
}

// ConfirmResult reports the outcome of ConfirmPayment.
type ConfirmResult struct {
	// LockerAllocated is false when a locker was requested but the
	// pool was exhausted at confirmation time. The payment still
	// stands; the case is flagged for manual follow-up.
	LockerAllocated bool
}

// ConfirmPayment settles a gateway capture against an UNPAID
// enrollment. In one transaction it records the payment, promotes the
// enrollment to PAID via a conditional update, and (when requested)
// takes a locker from the gender pool.
//
// The conditional update on pay_status='UNPAID' is the only arbiter of
// the confirm-versus-expiry race: whichever side updates the row first
// wins, and the loser observes zero affected rows. Confirm deliberately
// does not check expire_dt, so a payment that lands moments after the
// window but before the sweep still succeeds.
//
// Returns ErrAlreadyProcessed (duplicate tid or row already PAID),
// ErrReservationExpired (sweep won), ErrEnrollmentNotFound or
// ErrDeadlock. Locker exhaustion is not an error; see ConfirmResult.
func (r *EnrollmentRepo) ConfirmPayment(ctx context.Context, p ConfirmParams) (ConfirmResult, error) {
	var out ConfirmResult
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	pay := p.Payment
	pay.EnrollID = p.EnrollID
	if err := insertPaymentTx(ctx, tx, &pay); err != nil {
		return out, translateLockErr(err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE enrollments SET pay_status = 'PAID', expire_dt = NULL
		 WHERE id = ? AND pay_status = 'UNPAID'`, p.EnrollID)
	if err != nil {
		return out, translateLockErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return out, err
	}
	if n == 0 {
		var payStatus string
		err := tx.QueryRowContext(ctx,
			`SELECT pay_status FROM enrollments WHERE id = ?`, p.EnrollID).Scan(&payStatus)
		if errors.Is(err, sql.ErrNoRows) {
			return out, ErrEnrollmentNotFound
		}
		if err != nil {
			return out, err
		}
		if payStatus == string(model.PayPaid) {
			return out, ErrAlreadyProcessed
		}
		return out, ErrReservationExpired
	}

	if p.LockerGender != nil {
		got, err := allocateLockerTx(ctx, tx, *p.LockerGender)
		if err != nil {
			return out, translateLockErr(err)
		}
		out.LockerAllocated = got
		if got {
			if _, err := tx.ExecContext(ctx,
				`UPDATE enrollments SET locker_allocated = 1 WHERE id = ?`, p.EnrollID); err != nil {
				return out, translateLockErr(err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return ConfirmResult{}, translateLockErr(err)
	}
	committed = true
	return out, nil
}

// ExpireDue reclaims every unpaid enrollment whose payment window has
// closed. The bulk conditional update makes the sweep safe to run
// concurrently with confirmations: a row can only be claimed by one
// side. Returns the number of rows expired.
func (r *EnrollmentRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE enrollments
		 SET status = 'EXPIRED', pay_status = 'PAYMENT_TIMEOUT', expire_dt = NULL
		 WHERE status = 'APPLIED' AND pay_status = 'UNPAID' AND expire_dt <= ?`, now)
	if err != nil {
		return 0, translateLockErr(err)
	}
	return res.RowsAffected()
}

// RequestCancel records a user's refund request against their own PAID
// enrollment. A previous denial counts as no open request, so the user
// may ask again.
//
// Returns ErrEnrollmentNotFound, ErrForbidden (not the owner) or
// ErrInvalidStateTransition (not PAID, or a request already open).
func (r *EnrollmentRepo) RequestCancel(ctx context.Context, enrollID, userID uint64, reason string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE enrollments
		 SET cancel_status = 'REQ', pay_status = 'REFUND_REQUESTED',
		     cancel_reason = ?, cancel_requested_at = ?
		 WHERE id = ? AND user_id = ? AND pay_status = 'PAID'
		   AND cancel_status IN ('NONE','DENIED')`,
		reason, now, enrollID, userID)
	if err != nil {
		return translateLockErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return r.diagnoseCancelFailure(ctx, enrollID, userID)
}

// DenyCancel closes an open refund request without paying anything
// out. The enrollment returns to plain PAID and the user may request
// again later.
func (r *EnrollmentRepo) DenyCancel(ctx context.Context, enrollID uint64, comment string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE enrollments
		 SET cancel_status = 'DENIED', pay_status = 'PAID', admin_comment = ?
		 WHERE id = ? AND cancel_status = 'REQ'`,
		comment, enrollID)
	if err != nil {
		return translateLockErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return r.diagnoseCancelFailure(ctx, enrollID, 0)
}

// AdminCancel cancels an enrollment on the facility's initiative. An
// unpaid row is closed outright and its slot freed; a paid row is
// parked in REFUND_PENDING_ADMIN_CANCEL until the refund settles
// through FinalizeRefund.
func (r *EnrollmentRepo) AdminCancel(ctx context.Context, enrollID uint64, comment string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	e, err := scanEnrollment(tx.QueryRowContext(ctx,
		`SELECT `+enrollColumns+` FROM enrollments WHERE id = ? FOR UPDATE`, enrollID))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEnrollmentNotFound
	}
	if err != nil {
		return translateLockErr(err)
	}
	if e.Status != model.StatusApplied || !model.CanTransitionCancel(e.CancelStatus, model.CancelAdminCanceled) {
		return ErrInvalidStateTransition
	}

	if e.PayStatus == model.PayUnpaid {
		_, err = tx.ExecContext(ctx,
			`UPDATE enrollments
			 SET status = 'CANCELED', cancel_status = 'ADMIN_CANCELED',
			     expire_dt = NULL, admin_comment = ?, cancel_requested_at = ?
			 WHERE id = ?`,
			comment, now, enrollID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE enrollments
			 SET cancel_status = 'ADMIN_CANCELED', pay_status = 'REFUND_PENDING_ADMIN_CANCEL',
			     admin_comment = ?, cancel_requested_at = ?
			 WHERE id = ?`,
			comment, now, enrollID)
	}
	if err != nil {
		return translateLockErr(err)
	}
	if err := tx.Commit(); err != nil {
		return translateLockErr(err)
	}
	committed = true
	return nil
}

// ClaimRefund moves an open cancellation request to PENDING, marking a
// refund submission in flight at the gateway. The conditional update
// admits exactly one claimant per request; a concurrent approval loses
// the race here, before any money moves. Returns the status the claim
// was taken from so ReleaseRefundClaim can hand it back after a failed
// gateway call.
//
// Returns ErrEnrollmentNotFound or ErrInvalidStateTransition (no open
// request, or another approval already holds the claim).
func (r *EnrollmentRepo) ClaimRefund(ctx context.Context, enrollID uint64) (model.CancelStatus, error) {
	for _, from := range []model.CancelStatus{model.CancelRequested, model.CancelAdminCanceled} {
		res, err := r.db.ExecContext(ctx,
			`UPDATE enrollments SET cancel_status = 'PENDING'
			 WHERE id = ? AND status = 'APPLIED' AND cancel_status = ?`,
			enrollID, string(from))
		if err != nil {
			return "", translateLockErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", err
		}
		if n > 0 {
			return from, nil
		}
	}
	return "", r.diagnoseCancelFailure(ctx, enrollID, 0)
}

// ReleaseRefundClaim hands a claimed request back to the status it was
// taken from so the approval can be retried. Only the holder of a live
// claim may release it.
func (r *EnrollmentRepo) ReleaseRefundClaim(ctx context.Context, enrollID uint64, prev model.CancelStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET cancel_status = ?
		 WHERE id = ? AND cancel_status = 'PENDING'`,
		string(prev), enrollID)
	if err != nil {
		return translateLockErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidStateTransition
	}
	return nil
}

// FinalizeParams carries the inputs for FinalizeRefund.
type FinalizeParams struct {
	EnrollID     uint64
	Amount       int
	DaysUsed     int
	Basis        model.RefundBasisKind
	FullRefund   bool
	AdminComment string
	Now          time.Time
}

// FinalizeRefund settles an approved refund in one transaction: the
// payment ledger accumulates the refunded amount (guarded against
// exceeding the capture), the enrollment is closed with its refund
// breakdown, and an allocated locker goes back to its pool.
//
// The caller must hold the claim taken by ClaimRefund; only a PENDING
// row may finalize.
//
// LockerGender must carry the enrollee's gender when the enrollment has
// a locker allocated; the pool decrement is keyed by it.
func (r *EnrollmentRepo) FinalizeRefund(ctx context.Context, p FinalizeParams, lockerGender model.Gender) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	e, err := scanEnrollment(tx.QueryRowContext(ctx,
		`SELECT `+enrollColumns+` FROM enrollments WHERE id = ? FOR UPDATE`, p.EnrollID))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEnrollmentNotFound
	}
	if err != nil {
		return translateLockErr(err)
	}
	if !model.CanTransitionCancel(e.CancelStatus, model.CancelApproved) {
		return ErrInvalidStateTransition
	}

	if err := applyRefundTx(ctx, tx, p.EnrollID, p.Amount, p.FullRefund, p.Now); err != nil {
		return translateLockErr(err)
	}

	payStatus := model.PayPartialRefunded
	if p.FullRefund {
		payStatus = model.PayRefunded
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE enrollments
		 SET status = 'CANCELED', pay_status = ?, cancel_status = 'APPROVED',
		     refund_amount = ?, days_used_for_refund = ?, refund_basis = ?,
		     admin_comment = ?, cancel_approved_at = ?
		 WHERE id = ?`,
		string(payStatus), p.Amount, p.DaysUsed, string(p.Basis),
		p.AdminComment, p.Now, p.EnrollID)
	if err != nil {
		return translateLockErr(err)
	}

	if e.LockerAllocated {
		if err := releaseLockerTx(ctx, tx, lockerGender); err != nil {
			return translateLockErr(err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE enrollments SET locker_allocated = 0 WHERE id = ?`, p.EnrollID); err != nil {
			return translateLockErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return translateLockErr(err)
	}
	committed = true
	return nil
}

// diagnoseCancelFailure turns a zero-row conditional update into the
// most specific sentinel the current row state supports.
func (r *EnrollmentRepo) diagnoseCancelFailure(ctx context.Context, enrollID, userID uint64) error {
	e, err := r.GetByID(ctx, enrollID)
	if err != nil {
		return err
	}
	if userID != 0 && e.UserID != userID {
		return ErrForbidden
	}
	return ErrInvalidStateTransition
}
