package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"schoolattendance/internal/attendance"
)

// Type is the severity shown by the notification center.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Category groups notifications in the notification center.
type Category string

const (
	CategoryAttendance Category = "attendance"
	CategorySchedule   Category = "schedule"
	CategorySystem     Category = "system"
	CategoryProfile    Category = "profile"
)

// Role is the role of the notification recipient.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Notification is the payload handed to the notification center.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserRole  Role      `json:"user_role"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	Category  Category  `json:"category"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Irregularity describes a late arrival, absence or early departure,
// either from a live scan or from the batch audit.
type Irregularity struct {
	Teacher   attendance.Teacher
	Classroom attendance.Classroom
	Schedule  attendance.Schedule
	Date      string
	Direction attendance.Direction
	Status    attendance.Status
	// ScanTime is nil for absences.
	ScanTime *attendance.TimeOfDay
}

// IrregularityOf returns the irregularity carried by a recorded scan, if
// any.
func IrregularityOf(res attendance.Result) (Irregularity, bool) {
	if !attendance.IsIrregular(res.Log.Direction, res.Log.Status) {
		return Irregularity{}, false
	}
	scan := res.Log.ScanTime
	return Irregularity{
		Teacher:   res.Teacher,
		Classroom: res.Classroom,
		Schedule:  res.Schedule,
		Date:      res.Log.Date,
		Direction: res.Log.Direction,
		Status:    res.Log.Status,
		ScanTime:  &scan,
	}, true
}

func (irr Irregularity) title() string {
	switch irr.Status {
	case attendance.Late:
		return "Late Arrival"
	case attendance.Absent:
		return "Absence Recorded"
	case attendance.EarlyLeave:
		return "Early Departure"
	}
	return "Attendance Irregularity"
}

func (irr Irregularity) severity() Type {
	if irr.Status == attendance.Absent {
		return TypeError
	}
	return TypeWarning
}

func (irr Irregularity) message() string {
	name, room := irr.Teacher.Name, irr.Classroom.Name
	switch irr.Status {
	case attendance.Late:
		return fmt.Sprintf("%s checked in late at %s for %s (scheduled %s, %d min grace) on %s.",
			name, scanTimeOf(irr), room, irr.Schedule.Start, irr.Schedule.GraceMinutes, irr.Date)
	case attendance.Absent:
		return fmt.Sprintf("%s did not check in for %s (scheduled %s-%s) on %s.",
			name, room, irr.Schedule.Start, irr.Schedule.End, irr.Date)
	case attendance.EarlyLeave:
		return fmt.Sprintf("%s checked out early at %s from %s (scheduled until %s) on %s.",
			name, scanTimeOf(irr), room, irr.Schedule.End, irr.Date)
	}
	return fmt.Sprintf("%s: %s in %s on %s.", name, irr.Status, room, irr.Date)
}

func scanTimeOf(irr Irregularity) string {
	if irr.ScanTime == nil {
		return "--:--"
	}
	return irr.ScanTime.String()
}

// IrregularityNotifications builds the notice for the teacher and, when
// includeAdmins is set, one copy per admin.
func IrregularityNotifications(irr Irregularity, admins []string, includeAdmins bool, now time.Time) []Notification {
	title, msg, typ := irr.title(), irr.message(), irr.severity()
	out := []Notification{newNotification(irr.Teacher.ID, RoleTeacher, title, msg, typ, now)}
	if includeAdmins {
		for _, id := range admins {
			out = append(out, newNotification(id, RoleAdmin, title, msg, typ, now))
		}
	}
	return out
}

// ActionNotifications builds the audit-trail notice sent to every admin on
// every recorded scan, whatever its status.
func ActionNotifications(res attendance.Result, admins []string, now time.Time) []Notification {
	title, typ, verb := "Teacher Check-In", TypeSuccess, "checked in to"
	if res.Log.Direction == attendance.Out {
		title, typ, verb = "Teacher Check-Out", TypeInfo, "checked out of"
	}
	msg := fmt.Sprintf("%s %s %s at %s (%s).",
		res.Teacher.Name, verb, res.Classroom.Name, res.Log.ScanTime, statusLabel(res.Log.Status))

	out := make([]Notification, 0, len(admins))
	for _, id := range admins {
		out = append(out, newNotification(id, RoleAdmin, title, msg, typ, now))
	}
	return out
}

func statusLabel(s attendance.Status) string {
	switch s {
	case attendance.OnTime:
		return "on time"
	case attendance.Late:
		return "late"
	case attendance.Absent:
		return "absent"
	case attendance.EarlyLeave:
		return "early leave"
	}
	return string(s)
}

func newNotification(userID string, role Role, title, msg string, typ Type, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserRole:  role,
		Title:     title,
		Message:   msg,
		Type:      typ,
		Category:  CategoryAttendance,
		CreatedAt: now.UTC(),
	}
}
