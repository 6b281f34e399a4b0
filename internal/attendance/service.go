package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolattendance/internal/metrics"
)

// Store is the persistence the recorder depends on.
type Store interface {
	// TeacherByBadge returns nil, nil when no teacher owns the badge.
	TeacherByBadge(ctx context.Context, badge string) (*Teacher, error)
	// Classroom returns nil, nil when the classroom does not exist.
	Classroom(ctx context.Context, id string) (*Classroom, error)
	// SchedulesFor returns schedules ordered by start time, then id.
	SchedulesFor(ctx context.Context, teacherID, classroomID string, day time.Weekday) ([]Schedule, error)
	// ScansOn returns the logs of a teacher in a classroom on a date.
	ScansOn(ctx context.Context, teacherID, classroomID, date string) ([]Log, error)
	// InsertLog persists a log. A second log with the same teacher,
	// classroom, date and direction fails with ErrDuplicateDirection.
	InsertLog(ctx context.Context, l Log) (Log, error)
}

// Locker serializes scans of the same teacher and classroom across
// terminals. Lock returns a token owning the hold, or "" when the key is
// held elsewhere. Unlock releases the key only while token still owns it.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// ScanNotifier receives every persisted scan, off the request path.
// Implementations must swallow their own failures.
type ScanNotifier interface {
	ScanRecorded(ctx context.Context, res Result)
}

// Options tunes a Service. Zero values pick the defaults.
type Options struct {
	Cooldown time.Duration
	LockTTL  time.Duration
	Location *time.Location
	Locker   Locker
	Notifier ScanNotifier
}

// Service turns badge scans into attendance logs.
type Service struct {
	store    Store
	log      *zap.Logger
	cooldown time.Duration
	lockTTL  time.Duration
	loc      *time.Location
	locker   Locker
	notifier ScanNotifier

	pending sync.WaitGroup
}

// NewService creates a recorder backed by store.
func NewService(store Store, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		store:    store,
		log:      log,
		cooldown: opts.Cooldown,
		lockTTL:  opts.LockTTL,
		loc:      opts.Location,
		locker:   opts.Locker,
		notifier: opts.Notifier,
	}
}

// Wait blocks until every notification handoff started by RecordScan has
// returned.
func (s *Service) Wait() { s.pending.Wait() }

// ValidateBadge accepts exactly ten ASCII digits.
func ValidateBadge(badge string) error {
	if len(badge) != 10 {
		return ErrInvalidBadge
	}
	for i := 0; i < len(badge); i++ {
		if badge[i] < '0' || badge[i] > '9' {
			return ErrInvalidBadge
		}
	}
	return nil
}

// RecordScan validates a badge scan at classroomID, persists exactly one
// attendance log for it and hands the result to the notifier in the
// background. On error nothing has been written.
func (s *Service) RecordScan(ctx context.Context, badge, classroomID string, now time.Time) (Result, error) {
	res, err := s.recordScan(ctx, badge, classroomID, now)
	if err != nil {
		metrics.ScansRejected.WithLabelValues(Reason(err)).Inc()
		s.log.Info("scan rejected",
			zap.String("classroom_id", classroomID),
			zap.String("reason", Reason(err)),
			zap.Error(err),
		)
		return Result{}, err
	}

	metrics.ScansRecorded.WithLabelValues(string(res.Log.Direction), string(res.Log.Status)).Inc()
	s.log.Info("scan recorded",
		zap.String("log_id", res.Log.ID),
		zap.String("teacher_id", res.Teacher.ID),
		zap.String("classroom_id", res.Classroom.ID),
		zap.String("direction", string(res.Log.Direction)),
		zap.String("status", string(res.Log.Status)),
	)

	if s.notifier != nil {
		s.pending.Add(1)
		go func(ctx context.Context) {
			defer s.pending.Done()
			s.notifier.ScanRecorded(ctx, res)
		}(context.WithoutCancel(ctx))
	}
	return res, nil
}

func (s *Service) recordScan(ctx context.Context, badge, classroomID string, now time.Time) (Result, error) {
	const op = "attendance.RecordScan"

	if err := ValidateBadge(badge); err != nil {
		return Result{}, err
	}
	if classroomID == "" {
		return Result{}, ErrUnknownClassroom
	}
	now = now.In(s.loc)
	date := now.Format(DateLayout)

	teacher, err := s.store.TeacherByBadge(ctx, badge)
	if err != nil {
		return Result{}, fmt.Errorf("%s: teacher lookup: %w: %w", op, ErrPersistence, err)
	}
	if teacher == nil || !teacher.Active {
		return Result{}, ErrUnknownBadge
	}

	schedules, err := s.store.SchedulesFor(ctx, teacher.ID, classroomID, now.Weekday())
	if err != nil {
		return Result{}, fmt.Errorf("%s: schedule lookup: %w: %w", op, ErrPersistence, err)
	}
	sched, matches, err := ResolveSchedule(schedules, teacher.ID, classroomID, now.Weekday())
	if err != nil {
		return Result{}, err
	}
	if matches > 1 {
		metrics.ScheduleOverlaps.Inc()
		s.log.Warn("overlapping schedules, using the earliest",
			zap.String("teacher_id", teacher.ID),
			zap.String("classroom_id", classroomID),
			zap.Int("matches", matches),
			zap.String("schedule_id", sched.ID),
		)
	}

	classroom, err := s.store.Classroom(ctx, classroomID)
	if err != nil {
		return Result{}, fmt.Errorf("%s: classroom lookup: %w: %w", op, ErrPersistence, err)
	}
	if classroom == nil {
		return Result{}, ErrUnknownClassroom
	}

	unlock, err := s.lock(ctx, teacher.ID, classroomID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	prior, err := s.store.ScansOn(ctx, teacher.ID, classroomID, date)
	if err != nil {
		return Result{}, fmt.Errorf("%s: scan history: %w: %w", op, ErrPersistence, err)
	}
	if err := CheckRateLimit(latest(prior), now, s.cooldown); err != nil {
		return Result{}, err
	}
	dir, err := ResolveDirection(prior)
	if err != nil {
		return Result{}, err
	}

	scan := Clock(now)
	entry := Log{
		ID:          uuid.NewString(),
		TeacherID:   teacher.ID,
		ClassroomID: classroom.ID,
		ScheduleID:  sched.ID,
		Date:        date,
		ScanTime:    scan,
		Direction:   dir,
		Status:      Classify(dir, scan, sched.Start, sched.End, sched.GraceMinutes),
		CreatedAt:   now,
	}
	saved, err := s.store.InsertLog(ctx, entry)
	if err != nil {
		if errors.Is(err, ErrDuplicateDirection) {
			return Result{}, ErrDuplicateDirection
		}
		return Result{}, fmt.Errorf("%s: insert log: %w: %w", op, ErrPersistence, err)
	}

	return Result{Log: saved, Teacher: *teacher, Classroom: *classroom, Schedule: sched}, nil
}

// lock takes the per-pair scan lock. A busy lock means another terminal is
// recording the same pair right now, which is reported as ErrTooSoon. When
// the lock backend itself fails the scan proceeds unlocked; the rate limit
// and the unique index still hold.
func (s *Service) lock(ctx context.Context, teacherID, classroomID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := "scan:" + teacherID + ":" + classroomID
	token, err := s.locker.Lock(ctx, key, s.lockTTL)
	if err != nil {
		s.log.Warn("scan lock unavailable, continuing without it", zap.String("key", key), zap.Error(err))
		return func() {}, nil
	}
	if token == "" {
		return nil, fmt.Errorf("%w: another scan for this teacher and classroom is in progress", ErrTooSoon)
	}
	return func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("scan unlock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
