package attendance

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format stored on attendance logs.
const DateLayout = "2006-01-02"

// Direction tells whether a scan is a check-in or a check-out.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == In || d == Out
}

// Status is the attendance classification of a log.
type Status string

const (
	OnTime     Status = "on_time"
	Late       Status = "late"
	Absent     Status = "absent"
	EarlyLeave Status = "early_leave"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case OnTime, Late, Absent, EarlyLeave:
		return true
	}
	return false
}

// TimeOfDay is a wall-clock time with minute precision, stored as minutes
// since midnight.
type TimeOfDay int

// EndOfDay is midnight at the end of the day, "24:00". Postgres TIME
// accepts it as a schedule end.
const EndOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay parses "HH:MM" (a trailing ":SS" is accepted and dropped).
// "24:00" parses as EndOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" || s == "24:00:00" {
		return EndOfDay, nil
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Clock extracts the time of day from t in t's own location.
func Clock(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// Add returns the time of day shifted by the given number of minutes.
func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

// String renders t as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MarshalText encodes t as "HH:MM".
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts anything ParseTimeOfDay does.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Teacher owns a badge and a set of schedules.
type Teacher struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	RFID       string  `json:"rfid_id"`
	EmployeeID *string `json:"employee_id,omitempty"`
	Active     bool    `json:"active"`
}

// Classroom is a room with a scanner terminal.
type Classroom struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Schedule is one weekly class slot of a teacher in a classroom.
type Schedule struct {
	ID           string       `json:"id"`
	TeacherID    string       `json:"teacher_id"`
	ClassroomID  string       `json:"classroom_id"`
	DayOfWeek    time.Weekday `json:"day_of_week"`
	Start        TimeOfDay    `json:"start_time"`
	End          TimeOfDay    `json:"end_time"`
	GraceMinutes int          `json:"grace_period_minutes"`
	Active       bool         `json:"active"`
}

// Log is a single accepted scan. Logs are append-only.
type Log struct {
	ID          string    `json:"id"`
	TeacherID   string    `json:"teacher_id"`
	ClassroomID string    `json:"classroom_id"`
	ScheduleID  string    `json:"schedule_id"`
	Date        string    `json:"date"`
	ScanTime    TimeOfDay `json:"scan_time"`
	Direction   Direction `json:"scan_type"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate rejects logs whose direction or status is outside the known
// values.
func (l Log) Validate() error {
	if !l.Direction.Valid() {
		return fmt.Errorf("attendance log %s: unknown scan type %q", l.ID, l.Direction)
	}
	if !l.Status.Valid() {
		return fmt.Errorf("attendance log %s: unknown status %q", l.ID, l.Status)
	}
	return nil
}

// Result is what RecordScan hands back to the caller for display.
type Result struct {
	Log       Log       `json:"log"`
	Teacher   Teacher   `json:"teacher"`
	Classroom Classroom `json:"classroom"`
	Schedule  Schedule  `json:"schedule"`
}
