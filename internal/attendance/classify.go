package attendance

// Classify maps a scan onto an attendance status. Check-ins up to and
// including start+grace are on time; check-outs before the scheduled end
// are early leaves. Classify never yields Absent.
func Classify(dir Direction, scan, start, end TimeOfDay, graceMinutes int) Status {
	if graceMinutes < 0 {
		graceMinutes = 0
	}
	switch dir {
	case Out:
		if scan < end {
			return EarlyLeave
		}
		return OnTime
	default:
		if scan <= start.Add(graceMinutes) {
			return OnTime
		}
		return Late
	}
}

// IsIrregular reports whether a classified scan warrants a notification.
func IsIrregular(dir Direction, status Status) bool {
	switch dir {
	case In:
		return status == Late || status == Absent
	case Out:
		return status == EarlyLeave
	}
	return false
}
