package model

import "time"

// Gender keys the locker pools. The facility runs one pool per gender.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

// ValidGender reports whether g names a known locker pool.
func ValidGender(g Gender) bool {
	return g == GenderMale || g == GenderFemale
}

// LockerInventory is the per-gender locker pool, one row per gender.
// The invariant 0 <= Used <= Total is enforced in SQL: both counters
// are only ever moved by conditional updates (used < total on
// increment, used > 0 on decrement), never read-modify-write.
type LockerInventory struct {
	Gender    Gender    // locker_inventory.gender (PK)
	Total     int       // locker_inventory.total_quantity
	Used      int       // locker_inventory.used_quantity
	UpdatedAt time.Time // locker_inventory.updated_at
}

// Available returns the number of free lockers in the pool.
func (l LockerInventory) Available() int {
	return l.Total - l.Used
}
