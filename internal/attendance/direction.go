package attendance

import "time"

// DefaultCooldown is the minimum gap between two scans of the same teacher
// in the same classroom.
const DefaultCooldown = 60 * time.Second

// ResolveDirection derives the direction of the next scan from the logs
// already persisted today for the same teacher and classroom. Scans
// alternate strictly in then out; anything past that is a duplicate.
func ResolveDirection(prior []Log) (Direction, error) {
	var ins, outs int
	for _, l := range prior {
		switch l.Direction {
		case In:
			ins++
		case Out:
			outs++
		}
	}
	switch {
	case ins == 0 && outs == 0:
		return In, nil
	case ins == 1 && outs == 0:
		return Out, nil
	}
	return "", ErrDuplicateDirection
}

// CheckRateLimit rejects a scan that arrives less than cooldown after last.
// A zero last means there was no previous scan.
func CheckRateLimit(last, now time.Time, cooldown time.Duration) error {
	if last.IsZero() {
		return nil
	}
	if wait := RetryAfter(last, now, cooldown); wait > 0 {
		return &TooSoonError{Wait: wait}
	}
	return nil
}

// RetryAfter returns how long the caller must wait before the next scan
// of the pair is accepted.
func RetryAfter(last, now time.Time, cooldown time.Duration) time.Duration {
	if last.IsZero() {
		return 0
	}
	if d := cooldown - now.Sub(last); d > 0 {
		return d
	}
	return 0
}

func latest(prior []Log) time.Time {
	var last time.Time
	for _, l := range prior {
		if l.CreatedAt.After(last) {
			last = l.CreatedAt
		}
	}
	return last
}
