package attendance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/attendance/attendancetest"
)

const badge = "1234567890"

// monday is 2026-10-19, a Monday, in UTC.
func monday(clock string) time.Time {
	tod := attendance.MustTimeOfDay(clock)
	return time.Date(2026, 10, 19, int(tod)/60, int(tod)%60, 0, 0, time.UTC)
}

type fixture struct {
	store    *attendancetest.Store
	locker   *attendancetest.Locker
	notifier *attendancetest.Notifier
	svc      *attendance.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	store := attendancetest.NewStore()
	store.AddTeacher(attendance.Teacher{ID: "t1", Name: "Ana Reyes", RFID: badge, Active: true})
	store.AddClassroom(attendance.Classroom{ID: "c1", Name: "Room 101", Location: "Building A"})
	store.AddSchedule(attendance.Schedule{
		ID: "s1", TeacherID: "t1", ClassroomID: "c1", DayOfWeek: time.Monday, Active: true,
		Start: attendance.MustTimeOfDay("08:00"), End: attendance.MustTimeOfDay("09:00"), GraceMinutes: 10,
	})

	f := fixture{store: store, locker: attendancetest.NewLocker(), notifier: &attendancetest.Notifier{}}
	f.svc = attendance.NewService(store, nil, attendance.Options{
		Location: time.UTC,
		Locker:   f.locker,
		Notifier: f.notifier,
	})
	return f
}

func TestRecordScanCheckInOnTime(t *testing.T) {
	f := setup(t)

	res, err := f.svc.RecordScan(context.Background(), badge, "c1", monday("08:05"))
	require.NoError(t, err)

	assert.Equal(t, attendance.In, res.Log.Direction)
	assert.Equal(t, attendance.OnTime, res.Log.Status)
	assert.Equal(t, "2026-10-19", res.Log.Date)
	assert.Equal(t, "08:05", res.Log.ScanTime.String())
	assert.Equal(t, "s1", res.Log.ScheduleID)
	assert.NotEmpty(t, res.Log.ID)
	assert.Equal(t, "Ana Reyes", res.Teacher.Name)
	assert.Equal(t, "Room 101", res.Classroom.Name)
	assert.Equal(t, "s1", res.Schedule.ID)

	assert.Len(t, f.store.Logs(), 1)
	f.svc.Wait()
	assert.Len(t, f.notifier.Results(), 1)
	assert.False(t, f.locker.Held("scan:t1:c1"), "lock must be released")
}

func TestRecordScanCheckInLate(t *testing.T) {
	f := setup(t)

	res, err := f.svc.RecordScan(context.Background(), badge, "c1", monday("08:12"))
	require.NoError(t, err)
	assert.Equal(t, attendance.Late, res.Log.Status)
}

func TestRecordScanFullDay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	in, err := f.svc.RecordScan(ctx, badge, "c1", monday("08:00"))
	require.NoError(t, err)
	assert.Equal(t, attendance.In, in.Log.Direction)

	out, err := f.svc.RecordScan(ctx, badge, "c1", monday("08:45"))
	require.NoError(t, err)
	assert.Equal(t, attendance.Out, out.Log.Direction)
	assert.Equal(t, attendance.EarlyLeave, out.Log.Status)

	_, err = f.svc.RecordScan(ctx, badge, "c1", monday("09:30"))
	assert.ErrorIs(t, err, attendance.ErrDuplicateDirection)
	assert.Len(t, f.store.Logs(), 2)
}

func TestRecordScanRateLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first := monday("08:01")

	_, err := f.svc.RecordScan(ctx, badge, "c1", first)
	require.NoError(t, err)

	_, err = f.svc.RecordScan(ctx, badge, "c1", first.Add(30*time.Second))
	assert.ErrorIs(t, err, attendance.ErrTooSoon)
	assert.Len(t, f.store.Logs(), 1)

	res, err := f.svc.RecordScan(ctx, badge, "c1", first.Add(61*time.Second))
	require.NoError(t, err)
	assert.Equal(t, attendance.Out, res.Log.Direction)
}

func TestRecordScanRejections(t *testing.T) {
	tests := []struct {
		name      string
		badge     string
		classroom string
		at        time.Time
		prepare   func(f fixture)
		wantErr   error
	}{
		{name: "short badge", badge: "12345", classroom: "c1", at: monday("08:00"), wantErr: attendance.ErrInvalidBadge},
		{name: "non digit badge", badge: "12345abcde", classroom: "c1", at: monday("08:00"), wantErr: attendance.ErrInvalidBadge},
		{name: "unknown badge", badge: "0000000000", classroom: "c1", at: monday("08:00"), wantErr: attendance.ErrUnknownBadge},
		{name: "no class today", badge: badge, classroom: "c1", at: monday("08:00").AddDate(0, 0, 1), wantErr: attendance.ErrNoScheduleToday},
		{name: "other room", badge: badge, classroom: "c2", at: monday("08:00"), wantErr: attendance.ErrNoScheduleToday},
		{name: "empty classroom", badge: badge, classroom: "", at: monday("08:00"), wantErr: attendance.ErrUnknownClassroom},
		{
			name: "inactive teacher", badge: "5555555555", classroom: "c1", at: monday("08:00"),
			prepare: func(f fixture) {
				f.store.AddTeacher(attendance.Teacher{ID: "t9", RFID: "5555555555", Active: false})
			},
			wantErr: attendance.ErrUnknownBadge,
		},
		{
			name: "schedule for deleted classroom", badge: badge, classroom: "c3", at: monday("08:00"),
			prepare: func(f fixture) {
				f.store.AddSchedule(attendance.Schedule{ID: "s3", TeacherID: "t1", ClassroomID: "c3", DayOfWeek: time.Monday, Active: true,
					Start: attendance.MustTimeOfDay("08:00"), End: attendance.MustTimeOfDay("09:00")})
			},
			wantErr: attendance.ErrUnknownClassroom,
		},
		{
			name: "scan in progress elsewhere", badge: badge, classroom: "c1", at: monday("08:00"),
			prepare: func(f fixture) {
				_, _ = f.locker.Lock(context.Background(), "scan:t1:c1", time.Second)
			},
			wantErr: attendance.ErrTooSoon,
		},
		{
			name: "read failure", badge: badge, classroom: "c1", at: monday("08:00"),
			prepare: func(f fixture) { f.store.FailReads = errors.New("connection reset") },
			wantErr: attendance.ErrPersistence,
		},
		{
			name: "write failure", badge: badge, classroom: "c1", at: monday("08:00"),
			prepare: func(f fixture) { f.store.FailInsert = errors.New("connection reset") },
			wantErr: attendance.ErrPersistence,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			if tt.prepare != nil {
				tt.prepare(f)
			}

			_, err := f.svc.RecordScan(context.Background(), tt.badge, tt.classroom, tt.at)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.store.Logs(), "rejected scans must not be recorded")
			f.svc.Wait()
			assert.Empty(t, f.notifier.Results())
		})
	}
}

func TestRecordScanLockBackendDown(t *testing.T) {
	f := setup(t)
	f.locker.Err = errors.New("redis: connection refused")

	res, err := f.svc.RecordScan(context.Background(), badge, "c1", monday("08:03"))
	require.NoError(t, err)
	assert.Equal(t, attendance.OnTime, res.Log.Status)
}

func TestRecordScanUsesConfiguredLocation(t *testing.T) {
	f := setup(t)
	jakarta := time.FixedZone("WIB", 7*60*60)
	svc := attendance.NewService(f.store, nil, attendance.Options{Location: jakarta})

	// 01:05 UTC on Monday is 08:05 in UTC+7.
	res, err := svc.RecordScan(context.Background(), badge, "c1", time.Date(2026, 10, 19, 1, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "08:05", res.Log.ScanTime.String())
	assert.Equal(t, "2026-10-19", res.Log.Date)
	assert.Equal(t, attendance.OnTime, res.Log.Status)
}

func TestRecordScanOverlappingSchedulesPickEarliest(t *testing.T) {
	f := setup(t)
	f.store.AddSchedule(attendance.Schedule{
		ID: "s0", TeacherID: "t1", ClassroomID: "c1", DayOfWeek: time.Monday, Active: true,
		Start: attendance.MustTimeOfDay("07:30"), End: attendance.MustTimeOfDay("08:30"),
	})

	res, err := f.svc.RecordScan(context.Background(), badge, "c1", monday("07:35"))
	require.NoError(t, err)
	assert.Equal(t, "s0", res.Log.ScheduleID)
}

func TestValidateBadge(t *testing.T) {
	assert.NoError(t, attendance.ValidateBadge("0123456789"))
	for _, bad := range []string{"", "12345", "12345678901", "123456789x", "１２３４５６７８９０"} {
		assert.ErrorIs(t, attendance.ValidateBadge(bad), attendance.ErrInvalidBadge, bad)
	}
}

func TestReason(t *testing.T) {
	assert.Equal(t, "too_soon", attendance.Reason(attendance.CheckRateLimit(monday("08:00"), monday("08:00"), time.Minute)))
	assert.Equal(t, "persistence_failure", attendance.Reason(errors.Join(attendance.ErrPersistence, errors.New("x"))))
	assert.Equal(t, "internal", attendance.Reason(errors.New("boom")))
}

type stuckNotifier struct {
	release chan struct{}
	done    chan struct{}
}

func (n *stuckNotifier) ScanRecorded(context.Context, attendance.Result) {
	<-n.release
	close(n.done)
}

func TestRecordScanDoesNotWaitForNotifier(t *testing.T) {
	f := setup(t)
	n := &stuckNotifier{release: make(chan struct{}), done: make(chan struct{})}
	svc := attendance.NewService(f.store, nil, attendance.Options{Location: time.UTC, Notifier: n})

	start := time.Now()
	res, err := svc.RecordScan(context.Background(), badge, "c1", monday("08:05"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, f.store.Logs(), 1, "the log is committed before delivery finishes")
	assert.Equal(t, attendance.OnTime, res.Log.Status)

	close(n.release)
	svc.Wait()
	select {
	case <-n.done:
	default:
		t.Fatal("Wait returned before the handoff finished")
	}
}

func TestRecordScanScheduleEndingAtMidnight(t *testing.T) {
	f := setup(t)
	f.store.AddClassroom(attendance.Classroom{ID: "c2", Name: "Night Lab"})
	f.store.AddSchedule(attendance.Schedule{
		ID: "s-night", TeacherID: "t1", ClassroomID: "c2", DayOfWeek: time.Monday, Active: true,
		Start: attendance.MustTimeOfDay("22:00"), End: attendance.MustTimeOfDay("24:00"), GraceMinutes: 5,
	})

	in, err := f.svc.RecordScan(context.Background(), badge, "c2", monday("22:04"))
	require.NoError(t, err)
	assert.Equal(t, "s-night", in.Schedule.ID)
	assert.Equal(t, attendance.OnTime, in.Log.Status)

	out, err := f.svc.RecordScan(context.Background(), badge, "c2", monday("23:59"))
	require.NoError(t, err)
	assert.Equal(t, attendance.Out, out.Log.Direction)
	assert.Equal(t, attendance.EarlyLeave, out.Log.Status)
}
