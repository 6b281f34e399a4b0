// Package attendancetest provides in-memory doubles for the attendance
// store, lock and notifier.
package attendancetest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"schoolattendance/internal/attendance"
)

// Store is an in-memory attendance store. The Fail* fields inject errors.
type Store struct {
	mu         sync.Mutex
	teachers   map[string]attendance.Teacher
	classrooms map[string]attendance.Classroom
	schedules  []attendance.Schedule
	logs       []attendance.Log

	FailReads  error
	FailInsert error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		teachers:   map[string]attendance.Teacher{},
		classrooms: map[string]attendance.Classroom{},
	}
}

func (s *Store) AddTeacher(t attendance.Teacher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teachers[t.ID] = t
}

func (s *Store) AddClassroom(c attendance.Classroom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classrooms[c.ID] = c
}

func (s *Store) AddSchedule(sc attendance.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, sc)
}

// AddLog seeds a log without the uniqueness check.
func (s *Store) AddLog(l attendance.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
}

// Logs returns a copy of every stored log.
func (s *Store) Logs() []attendance.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]attendance.Log(nil), s.logs...)
}

func (s *Store) TeacherByBadge(_ context.Context, badge string) (*attendance.Teacher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	for _, t := range s.teachers {
		if t.RFID == badge && t.Active {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Store) Teacher(_ context.Context, id string) (*attendance.Teacher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	if t, ok := s.teachers[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (s *Store) Classroom(_ context.Context, id string) (*attendance.Classroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	if c, ok := s.classrooms[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *Store) SchedulesFor(_ context.Context, teacherID, classroomID string, day time.Weekday) ([]attendance.Schedule, error) {
	return s.filterSchedules(func(sc attendance.Schedule) bool {
		return sc.Active && sc.TeacherID == teacherID && sc.ClassroomID == classroomID && sc.DayOfWeek == day
	})
}

func (s *Store) ActiveSchedulesOn(_ context.Context, day time.Weekday) ([]attendance.Schedule, error) {
	return s.filterSchedules(func(sc attendance.Schedule) bool {
		return sc.Active && sc.DayOfWeek == day
	})
}

func (s *Store) filterSchedules(keep func(attendance.Schedule) bool) ([]attendance.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var res []attendance.Schedule
	for _, sc := range s.schedules {
		if keep(sc) {
			res = append(res, sc)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Start < res[j].Start })
	return res, nil
}

func (s *Store) ScansOn(_ context.Context, teacherID, classroomID, date string) ([]attendance.Log, error) {
	return s.filterLogs(func(l attendance.Log) bool {
		return l.TeacherID == teacherID && l.ClassroomID == classroomID && l.Date == date
	})
}

func (s *Store) LogsForSchedule(_ context.Context, teacherID, scheduleID, date string) ([]attendance.Log, error) {
	return s.filterLogs(func(l attendance.Log) bool {
		return l.TeacherID == teacherID && l.ScheduleID == scheduleID && l.Date == date
	})
}

func (s *Store) filterLogs(keep func(attendance.Log) bool) ([]attendance.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var res []attendance.Log
	for _, l := range s.logs {
		if keep(l) {
			res = append(res, l)
		}
	}
	return res, nil
}

// InsertLog mirrors the Postgres unique index on teacher, classroom, date
// and direction.
func (s *Store) InsertLog(_ context.Context, l attendance.Log) (attendance.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return attendance.Log{}, s.FailInsert
	}
	if err := l.Validate(); err != nil {
		return attendance.Log{}, err
	}
	for _, existing := range s.logs {
		if existing.TeacherID == l.TeacherID && existing.ClassroomID == l.ClassroomID &&
			existing.Date == l.Date && existing.Direction == l.Direction {
			return attendance.Log{}, attendance.ErrDuplicateDirection
		}
	}
	s.logs = append(s.logs, l)
	return l, nil
}

// Locker is an in-process attendance.Locker with the same token
// ownership rules as the Redis lock.
type Locker struct {
	mu   sync.Mutex
	held map[string]string
	seq  int
	Err  error
}

// NewLocker returns a locker holding no keys.
func NewLocker() *Locker {
	return &Locker{held: map[string]string{}}
}

func (l *Locker) Lock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return "", l.Err
	}
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	l.seq++
	token := "token-" + strconv.Itoa(l.seq)
	l.held[key] = token
	return token, nil
}

func (l *Locker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// Expire drops key as if its TTL had run out.
func (l *Locker) Expire(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// Held reports whether key is currently locked.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// Notifier records every result it is handed.
type Notifier struct {
	mu      sync.Mutex
	results []attendance.Result
}

func (n *Notifier) ScanRecorded(_ context.Context, res attendance.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, res)
}

// Results returns every result handed over so far.
func (n *Notifier) Results() []attendance.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]attendance.Result(nil), n.results...)
}

// ListLogs applies the filter like the Postgres repository, newest first.
func (s *Store) ListLogs(_ context.Context, f attendance.LogFilter) ([]attendance.Log, error) {
	res, err := s.filterLogs(func(l attendance.Log) bool {
		return (f.TeacherID == "" || l.TeacherID == f.TeacherID) &&
			(f.ClassroomID == "" || l.ClassroomID == f.ClassroomID) &&
			(f.Date == "" || l.Date == f.Date)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	f.Limit, f.Offset = f.Page()
	if f.Offset > len(res) {
		f.Offset = len(res)
	}
	res = res[f.Offset:]
	if len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}
