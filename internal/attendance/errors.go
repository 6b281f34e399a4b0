package attendance

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidBadge is returned for input that is not exactly 10 ASCII digits.
	ErrInvalidBadge = errors.New("badge must be exactly 10 digits")
	// ErrUnknownBadge means no active teacher owns the badge.
	ErrUnknownBadge = errors.New("badge is not registered to any teacher")
	// ErrNoScheduleToday means the teacher has no class in this room today.
	ErrNoScheduleToday = errors.New("no schedule for this teacher in this classroom today")
	ErrUnknownClassroom = errors.New("classroom not found")
	// ErrTooSoon is a rate-limit rejection; retrying after the cooldown succeeds.
	ErrTooSoon = errors.New("scan too soon after the previous one")
	// ErrDuplicateDirection is returned for a scan after both check-in and
	// check-out already exist for the day.
	ErrDuplicateDirection = errors.New("attendance already complete for today")
	// ErrPersistence wraps storage failures. No log was written.
	ErrPersistence = errors.New("attendance storage failure")
)

// TooSoonError is a rate-limit rejection carrying the remaining cooldown.
// It matches ErrTooSoon with errors.Is.
type TooSoonError struct {
	Wait time.Duration
}

// Error includes the remaining wait.
func (e *TooSoonError) Error() string {
	return fmt.Sprintf("%s: wait %s", ErrTooSoon, e.Wait.Round(time.Second))
}

// Unwrap makes errors.Is match ErrTooSoon.
func (e *TooSoonError) Unwrap() error { return ErrTooSoon }

// Reason returns a short label for a scan rejection, used in metrics and
// API error codes.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidBadge):
		return "invalid_badge"
	case errors.Is(err, ErrUnknownBadge):
		return "unknown_badge"
	case errors.Is(err, ErrNoScheduleToday):
		return "no_schedule_today"
	case errors.Is(err, ErrUnknownClassroom):
		return "unknown_classroom"
	case errors.Is(err, ErrTooSoon):
		return "too_soon"
	case errors.Is(err, ErrDuplicateDirection):
		return "duplicate_direction"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	}
	return "internal"
}
