package model

import "time"

// Lesson describes a timed-capacity course offered by the facility, as
// stored in the `lessons` table. Capacity is a hard ceiling: the number
// of enrollments counted as occupying a slot (paid, or unpaid and not
// yet expired) must never exceed it. Price is in whole KRW.
//
// Fields:
//  ID             – primary key identifier.
//  Title          – display name of the lesson.
//  Instructor     – instructor name.
//  Capacity       – maximum concurrent occupants (>= 1).
//  Price          – lesson fee in KRW.
//  StartDate      – first day of the lesson period (date, UTC midnight).
//  EndDate        – last day of the lesson period (inclusive).
//  LessonTime     – human readable schedule, e.g. "06:00-06:50".
//  RegStartAt     – beginning of the registration window.
//  RegEndAt       – end of the registration window.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Lesson struct {
	ID         uint64    // lessons.id
	Title      string    // lessons.title
	Instructor string    // lessons.instructor
	Capacity   int       // lessons.capacity
	Price      int       // lessons.price
	StartDate  time.Time // lessons.start_date
	EndDate    time.Time // lessons.end_date
	LessonTime string    // lessons.lesson_time
	RegStartAt time.Time // lessons.reg_start_at
	RegEndAt   time.Time // lessons.reg_end_at
	CreatedAt  time.Time // lessons.created_at
	UpdatedAt  time.Time // lessons.updated_at
}

// TotalDays returns the number of calendar days covered by the lesson
// period, inclusive of both endpoints. A lesson whose start and end
// fall on the same day spans one day.
func (l Lesson) TotalDays() int {
	days := int(l.EndDate.Sub(l.StartDate).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// RegistrationOpen reports whether enrollments may be created at the
// given instant.
func (l Lesson) RegistrationOpen(now time.Time) bool {
	if !l.RegStartAt.IsZero() && now.Before(l.RegStartAt) {
		return false
	}
	if !l.RegEndAt.IsZero() && now.After(l.RegEndAt) {
		return false
	}
	return true
}

// Started reports whether the lesson period has begun. The locker fee
// becomes non-refundable from this point on.
func (l Lesson) Started(now time.Time) bool {
	return !now.Before(l.StartDate)
}
