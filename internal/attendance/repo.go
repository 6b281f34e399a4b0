package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const teacherColumns = `id, name, rfid_id, employee_id, active`

func scanTeacher(row rowScanner) (*Teacher, error) {
	var t Teacher
	if err := row.Scan(&t.ID, &t.Name, &t.RFID, &t.EmployeeID, &t.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// TeacherByBadge returns the active teacher owning badge, or nil.
func (r *Repository) TeacherByBadge(ctx context.Context, badge string) (*Teacher, error) {
	return scanTeacher(r.db.QueryRowContext(ctx, `
		SELECT `+teacherColumns+`
		FROM teachers
		WHERE rfid_id = $1 AND active
		LIMIT 1
	`, badge))
}

// Teacher returns a teacher by id, or nil.
func (r *Repository) Teacher(ctx context.Context, id string) (*Teacher, error) {
	return scanTeacher(r.db.QueryRowContext(ctx, `SELECT `+teacherColumns+` FROM teachers WHERE id = $1`, id))
}

// Classroom returns a classroom by id, or nil.
func (r *Repository) Classroom(ctx context.Context, id string) (*Classroom, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, location FROM classrooms WHERE id = $1`, id)
	var c Classroom
	if err := row.Scan(&c.ID, &c.Name, &c.Location); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

const scheduleColumns = `id, teacher_id, classroom_id, day_of_week,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	grace_period_minutes, active`

func (r *Repository) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Schedule
	for rows.Next() {
		var (
			s          Schedule
			day        int
			start, end string
		)
		if err := rows.Scan(&s.ID, &s.TeacherID, &s.ClassroomID, &day, &start, &end, &s.GraceMinutes, &s.Active); err != nil {
			return nil, err
		}
		s.DayOfWeek = time.Weekday(day)
		if s.Start, err = ParseTimeOfDay(start); err != nil {
			return nil, err
		}
		if s.End, err = ParseTimeOfDay(end); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SchedulesFor returns the active schedules of a teacher in a classroom on
// a weekday, earliest first.
func (r *Repository) SchedulesFor(ctx context.Context, teacherID, classroomID string, day time.Weekday) ([]Schedule, error) {
	return r.querySchedules(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE teacher_id = $1 AND classroom_id = $2 AND day_of_week = $3 AND active
		ORDER BY start_time, id
	`, teacherID, classroomID, int(day))
}

// ActiveSchedulesOn returns every active schedule on a weekday.
func (r *Repository) ActiveSchedulesOn(ctx context.Context, day time.Weekday) ([]Schedule, error) {
	return r.querySchedules(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE day_of_week = $1 AND active
		ORDER BY start_time, id
	`, int(day))
}

const logColumns = `id, teacher_id, classroom_id, schedule_id,
	to_char(date, 'YYYY-MM-DD'), to_char(scan_time, 'HH24:MI'),
	scan_type, status, created_at`

func (r *Repository) queryLogs(ctx context.Context, query string, args ...any) ([]Log, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Log
	for rows.Next() {
		var (
			l    Log
			scan string
		)
		if err := rows.Scan(&l.ID, &l.TeacherID, &l.ClassroomID, &l.ScheduleID, &l.Date, &scan, &l.Direction, &l.Status, &l.CreatedAt); err != nil {
			return nil, err
		}
		if l.ScanTime, err = ParseTimeOfDay(scan); err != nil {
			return nil, err
		}
		if err := l.Validate(); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ScansOn returns a teacher's logs in a classroom on a date, oldest first.
func (r *Repository) ScansOn(ctx context.Context, teacherID, classroomID, date string) ([]Log, error) {
	return r.queryLogs(ctx, `
		SELECT `+logColumns+`
		FROM attendance_logs
		WHERE teacher_id = $1 AND classroom_id = $2 AND date = $3::date
		ORDER BY created_at
	`, teacherID, classroomID, date)
}

// LogsForSchedule returns the logs a teacher produced for one schedule on a
// date.
func (r *Repository) LogsForSchedule(ctx context.Context, teacherID, scheduleID, date string) ([]Log, error) {
	return r.queryLogs(ctx, `
		SELECT `+logColumns+`
		FROM attendance_logs
		WHERE teacher_id = $1 AND schedule_id = $2 AND date = $3::date
		ORDER BY created_at
	`, teacherID, scheduleID, date)
}

// InsertLog writes a new attendance log.
func (r *Repository) InsertLog(ctx context.Context, l Log) (Log, error) {
	if err := l.Validate(); err != nil {
		return Log{}, err
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_logs (id, teacher_id, classroom_id, schedule_id, date, scan_time, scan_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5::date, $6::time, $7, $8, $9)
	`, l.ID, l.TeacherID, l.ClassroomID, l.ScheduleID, l.Date, l.ScanTime.String(), string(l.Direction), string(l.Status), l.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Log{}, ErrDuplicateDirection
		}
		return Log{}, err
	}
	return l, nil
}

// LogFilter narrows ListLogs. Empty fields are ignored.
type LogFilter struct {
	TeacherID   string
	ClassroomID string
	Date        string
	Limit       int
	Offset      int
}

// Page returns the effective limit and offset: 50 rows when no limit is
// given, at most 500, never a negative offset.
func (f LogFilter) Page() (limit, offset int) {
	limit, offset = f.Limit, f.Offset
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListLogs returns logs with basic filters, newest first.
func (r *Repository) ListLogs(ctx context.Context, f LogFilter) ([]Log, error) {
	f.Limit, f.Offset = f.Page()
	query := `SELECT ` + logColumns + ` FROM attendance_logs`
	args := []any{}
	clauses := []string{}
	if f.TeacherID != "" {
		args = append(args, f.TeacherID)
		clauses = append(clauses, "teacher_id = $"+strconv.Itoa(len(args)))
	}
	if f.ClassroomID != "" {
		args = append(args, f.ClassroomID)
		clauses = append(clauses, "classroom_id = $"+strconv.Itoa(len(args)))
	}
	if f.Date != "" {
		args = append(args, f.Date)
		clauses = append(clauses, "date = $"+strconv.Itoa(len(args))+"::date")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	return r.queryLogs(ctx, query, args...)
}
