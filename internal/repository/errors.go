// Package repository implements MySQL-backed persistence. This file
// defines the sentinel errors shared across repositories; higher layers
// use errors.Is against them to pick status codes and retry behaviour
// instead of parsing driver errors.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own. Handlers translate this into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrLessonNotFound is returned when a lesson id does not exist.
var ErrLessonNotFound = errors.New("lesson not found")

// ErrEnrollmentNotFound is returned when an enrollment id or moid does
// not resolve to a row.
var ErrEnrollmentNotFound = errors.New("enrollment not found")

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailExists is returned on registration when the email address is
// already taken.
var ErrEmailExists = errors.New("email already registered")

// ErrRegistrationClosed is returned when a reservation is attempted
// outside the lesson's registration window.
var ErrRegistrationClosed = errors.New("registration window closed")

// ErrCapacityExceeded is returned when admitting one more enrollment
// would push the occupied count past the lesson capacity.
var ErrCapacityExceeded = errors.New("lesson capacity exceeded")

// ErrAlreadyEnrolled is returned when the user already holds an active
// enrollment for the lesson.
var ErrAlreadyEnrolled = errors.New("already enrolled in lesson")

// ErrLockerUnavailable is returned when the gender pool has no free
// lockers, i.e. the conditional increment matched no row.
var ErrLockerUnavailable = errors.New("no locker available")

// ErrReservationExpired is returned when a payment arrives for an
// enrollment whose slot is no longer UNPAID, typically because the
// expiry sweep already reclaimed it.
var ErrReservationExpired = errors.New("reservation expired")

// ErrAlreadyProcessed is returned when a gateway notification has been
// seen before (duplicate tid) and must be acknowledged without side
// effects.
var ErrAlreadyProcessed = errors.New("payment already processed")

// ErrAmountMismatch is returned when the amount reported by the gateway
// differs from the amount the enrollment was quoted.
var ErrAmountMismatch = errors.New("payment amount mismatch")

// ErrInvalidStateTransition is returned when a cancellation operation
// does not follow a legal cancel-status edge, or when a conditional
// update found the row in an unexpected state.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// ErrRefundExceedsPaid is returned when a refund would push the total
// refunded amount past the captured amount.
var ErrRefundExceedsPaid = errors.New("refund exceeds paid amount")

// ErrGatewayUnavailable is returned when the payment gateway cannot be
// reached or answers with a transport-level failure. State must be left
// unchanged so the operation can be retried.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrDeadlock is returned when MySQL aborts a transaction with a
// deadlock (1213) or lock wait timeout (1205). Services retry these
// with backoff.
var ErrDeadlock = errors.New("database deadlock")
