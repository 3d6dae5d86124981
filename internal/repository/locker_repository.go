package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/arinwt/lesson-reservation/internal/model"
)

// LockerRepo manages the per-gender locker pools. The used counter is
// only ever moved by conditional single-statement updates so that the
// invariant 0 <= used <= total holds without application-level locking.
type LockerRepo struct {
	db *sql.DB
}

// NewLockerRepo returns a new LockerRepo bound to the given database.
func NewLockerRepo(db *sql.DB) *LockerRepo { return &LockerRepo{db: db} }

// Get returns the pool for one gender. A missing row is reported as an
// empty pool rather than an error so fresh deployments work without
// seeding.
func (r *LockerRepo) Get(ctx context.Context, g model.Gender) (model.LockerInventory, error) {
	var inv model.LockerInventory
	err := r.db.QueryRowContext(ctx,
		`SELECT gender, total_quantity, used_quantity, updated_at
		 FROM locker_inventory WHERE gender = ?`, string(g)).
		Scan(&inv.Gender, &inv.Total, &inv.Used, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LockerInventory{Gender: g}, nil
	}
	return inv, err
}

// List returns every pool, ordered by gender for deterministic output.
func (r *LockerRepo) List(ctx context.Context) ([]model.LockerInventory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT gender, total_quantity, used_quantity, updated_at
		 FROM locker_inventory ORDER BY gender`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pools := make([]model.LockerInventory, 0, 2)
	for rows.Next() {
		var inv model.LockerInventory
		if err := rows.Scan(&inv.Gender, &inv.Total, &inv.Used, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		pools = append(pools, inv)
	}
	return pools, rows.Err()
}

// SetTotal resizes a pool. Shrinking below the current used count is
// rejected with ErrInvalidStateTransition; the guard lives in the WHERE
// clause so a concurrent allocation cannot slip past it.
func (r *LockerRepo) SetTotal(ctx context.Context, g model.Gender, total int) error {
	if total < 0 || !model.ValidGender(g) {
		return ErrInvalidStateTransition
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE locker_inventory SET total_quantity = ?
		 WHERE gender = ? AND used_quantity <= ?`,
		total, string(g), total)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Either the row does not exist yet, the new total is below the
	// used count, or the total is unchanged.
	var used, cur int
	err = r.db.QueryRowContext(ctx,
		`SELECT used_quantity, total_quantity FROM locker_inventory WHERE gender = ?`,
		string(g)).Scan(&used, &cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO locker_inventory (gender, total_quantity, used_quantity) VALUES (?, ?, 0)`,
			string(g), total)
		return err
	case err != nil:
		return err
	case used > total:
		return ErrInvalidStateTransition
	default:
		return nil
	}
}

// Allocate takes one locker from the pool. It returns
// ErrLockerUnavailable when the pool is exhausted.
func (r *LockerRepo) Allocate(ctx context.Context, g model.Gender) error {
	res, err := r.db.ExecContext(ctx, lockerAllocateQ, string(g))
	if err != nil {
		return translateLockErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockerUnavailable
	}
	return nil
}

// Release returns one locker to the pool. Releasing an empty pool is a
// no-op; the guard prevents used from going negative.
func (r *LockerRepo) Release(ctx context.Context, g model.Gender) error {
	_, err := r.db.ExecContext(ctx, lockerReleaseQ, string(g))
	return translateLockErr(err)
}

const (
	lockerAllocateQ = `UPDATE locker_inventory
		SET used_quantity = used_quantity + 1
		WHERE gender = ? AND used_quantity < total_quantity`
	lockerReleaseQ = `UPDATE locker_inventory
		SET used_quantity = used_quantity - 1
		WHERE gender = ? AND used_quantity > 0`
)

// allocateLockerTx attempts the conditional increment inside an
// existing transaction. It reports whether a locker was taken; pool
// exhaustion is a normal outcome here, not an error.
func allocateLockerTx(ctx context.Context, tx *sql.Tx, g model.Gender) (bool, error) {
	res, err := tx.ExecContext(ctx, lockerAllocateQ, string(g))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// releaseLockerTx performs the guarded decrement inside an existing
// transaction.
func releaseLockerTx(ctx context.Context, tx *sql.Tx, g model.Gender) error {
	_, err := tx.ExecContext(ctx, lockerReleaseQ, string(g))
	return err
}
