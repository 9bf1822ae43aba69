package utils

import "time"

// Pointer returns a pointer to v. Handy for nullable gorm columns.
func Pointer[T any](v T) *T {
	return &v
}

// StartOfDay truncates t to local midnight. Step offsets are counted in
// whole days from enrollment.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
