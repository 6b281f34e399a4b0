package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/notify"
)

// Store is the read-only view the auditor needs.
type Store interface {
	ActiveSchedulesOn(ctx context.Context, day time.Weekday) ([]attendance.Schedule, error)
	LogsForSchedule(ctx context.Context, teacherID, scheduleID, date string) ([]attendance.Log, error)
	Teacher(ctx context.Context, id string) (*attendance.Teacher, error)
	Classroom(ctx context.Context, id string) (*attendance.Classroom, error)
}

// Reporter publishes one irregularity. *notify.Notifier satisfies it.
type Reporter interface {
	Irregularity(ctx context.Context, irr notify.Irregularity)
}

// Report is the outcome of one sweep.
type Report struct {
	Date     string
	Checked  int
	Findings []notify.Irregularity
}

// Auditor sweeps a day's schedules for absences and re-flags late and
// early-leave logs. Runs must be serialized by the caller; concurrent runs
// only duplicate notifications.
type Auditor struct {
	store    Store
	reporter Reporter
	loc      *time.Location
	log      *zap.Logger
}

// New creates an Auditor evaluating dates in loc. reporter may be nil.
func New(store Store, reporter Reporter, loc *time.Location, log *zap.Logger) *Auditor {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{store: store, reporter: reporter, loc: loc, log: log}
}

// AuditDay runs Audit and returns the number of irregularities found.
func (a *Auditor) AuditDay(ctx context.Context, date, now time.Time) (int, error) {
	rep, err := a.Audit(ctx, date, now)
	if err != nil {
		return 0, err
	}
	return len(rep.Findings), nil
}

// Audit evaluates every active schedule of date's weekday whose start has
// passed at now. It never writes attendance logs.
func (a *Auditor) Audit(ctx context.Context, date, now time.Time) (Report, error) {
	const op = "audit.Audit"

	y, m, d := date.In(a.loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, a.loc)
	rep := Report{Date: day.Format(attendance.DateLayout)}

	now = now.In(a.loc)
	if now.Before(day) {
		return rep, nil
	}
	cutoff := attendance.TimeOfDay(24 * 60)
	if ny, nm, nd := now.Date(); ny == y && nm == m && nd == d {
		cutoff = attendance.Clock(now)
	}

	schedules, err := a.store.ActiveSchedulesOn(ctx, day.Weekday())
	if err != nil {
		return Report{}, fmt.Errorf("%s: schedules: %w", op, err)
	}

	teachers := map[string]*attendance.Teacher{}
	classrooms := map[string]*attendance.Classroom{}

	for _, s := range schedules {
		if !s.Active || s.Start >= cutoff {
			continue
		}
		teacher, err := a.teacher(ctx, teachers, s.TeacherID)
		if err != nil {
			return Report{}, fmt.Errorf("%s: teacher %s: %w", op, s.TeacherID, err)
		}
		if !teacher.Active {
			continue
		}
		classroom, err := a.classroom(ctx, classrooms, s.ClassroomID)
		if err != nil {
			return Report{}, fmt.Errorf("%s: classroom %s: %w", op, s.ClassroomID, err)
		}
		logs, err := a.store.LogsForSchedule(ctx, s.TeacherID, s.ID, rep.Date)
		if err != nil {
			return Report{}, fmt.Errorf("%s: logs for schedule %s: %w", op, s.ID, err)
		}
		rep.Checked++

		base := notify.Irregularity{Teacher: *teacher, Classroom: *classroom, Schedule: s, Date: rep.Date}
		if len(logs) == 0 {
			irr := base
			irr.Direction, irr.Status = attendance.In, attendance.Absent
			rep.Findings = append(rep.Findings, irr)
			continue
		}
		for _, l := range logs {
			if !attendance.IsIrregular(l.Direction, l.Status) {
				continue
			}
			scan := l.ScanTime
			irr := base
			irr.Direction, irr.Status, irr.ScanTime = l.Direction, l.Status, &scan
			rep.Findings = append(rep.Findings, irr)
		}
	}

	for _, irr := range rep.Findings {
		metrics.AuditIrregularities.WithLabelValues(string(irr.Status)).Inc()
		if a.reporter != nil {
			a.reporter.Irregularity(ctx, irr)
		}
	}
	a.log.Info("audit finished",
		zap.String("date", rep.Date),
		zap.Int("schedules_checked", rep.Checked),
		zap.Int("irregularities", len(rep.Findings)),
	)
	return rep, nil
}

func (a *Auditor) teacher(ctx context.Context, cache map[string]*attendance.Teacher, id string) (*attendance.Teacher, error) {
	if t, ok := cache[id]; ok {
		return t, nil
	}
	t, err := a.store.Teacher(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		a.log.Warn("schedule references a missing teacher", zap.String("teacher_id", id))
		t = &attendance.Teacher{ID: id, Name: id, Active: true}
	}
	cache[id] = t
	return t, nil
}

func (a *Auditor) classroom(ctx context.Context, cache map[string]*attendance.Classroom, id string) (*attendance.Classroom, error) {
	if c, ok := cache[id]; ok {
		return c, nil
	}
	c, err := a.store.Classroom(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &attendance.Classroom{ID: id, Name: id}
	}
	cache[id] = c
	return c, nil
}
