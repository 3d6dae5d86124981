package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers this package reacts to.
const (
	mysqlErrDuplicateKey    = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// translateLockErr wraps MySQL deadlock and lock-wait-timeout failures
// in ErrDeadlock so services can detect them with errors.Is and retry.
// Any other error is returned unchanged.
func translateLockErr(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == mysqlErrDeadlock || me.Number == mysqlErrLockWaitTimeout) {
		return fmt.Errorf("%w: %v", ErrDeadlock, err)
	}
	return err
}

// isDuplicateKey reports whether err is a MySQL unique-constraint
// violation (error 1062).
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateKey
}
