package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/attendance/attendancetest"
	"schoolattendance/internal/audit"
	"schoolattendance/internal/auth"
)

const (
	signingKey = "test-key"
	issuer     = "school-attendance"
	enrollKey  = "enroll-secret"
	badge      = "1234567890"
)

type memoryTerminals struct {
	mu        sync.Mutex
	terminals map[string]bool
	tokens    map[string]string
	revoked   map[string]bool
}

func newMemoryTerminals() *memoryTerminals {
	return &memoryTerminals{terminals: map[string]bool{}, tokens: map[string]string{}, revoked: map[string]bool{}}
}

func (m *memoryTerminals) UpsertTerminal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminals[id] = true
	return nil
}

func (m *memoryTerminals) SaveRefreshToken(_ context.Context, id, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = id
	return nil
}

func (m *memoryTerminals) ConsumeRefreshToken(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokens[token]
	if !ok || m.revoked[token] {
		return "", auth.ErrRefreshTokenInvalid
	}
	m.revoked[token] = true
	return id, nil
}

type testServer struct {
	router    *gin.Engine
	handler   *Handler
	store     *attendancetest.Store
	terminals *memoryTerminals
	clock     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := attendancetest.NewStore()
	store.AddTeacher(attendance.Teacher{ID: "t1", Name: "Ana Reyes", RFID: badge, Active: true})
	store.AddClassroom(attendance.Classroom{ID: "c1", Name: "Room 101"})
	store.AddSchedule(attendance.Schedule{
		ID: "s1", TeacherID: "t1", ClassroomID: "c1", DayOfWeek: time.Monday, Active: true,
		Start: attendance.MustTimeOfDay("08:00"), End: attendance.MustTimeOfDay("09:00"), GraceMinutes: 10,
	})

	ts := &testServer{
		store:     store,
		terminals: newMemoryTerminals(),
		clock:     time.Date(2026, 10, 19, 8, 5, 0, 0, time.UTC),
	}
	ts.handler = New(Deps{
		Recorder:  attendance.NewService(store, nil, attendance.Options{Location: time.UTC}),
		Logs:      store,
		Auditor:   audit.New(store, nil, time.UTC, nil),
		Terminals: ts.terminals,
		Checks: map[string]HealthCheck{
			"db": func(context.Context) bool { return true },
		},
	}, Config{
		SigningKey:      signingKey,
		Issuer:          issuer,
		EnrollKey:       enrollKey,
		AccessTTL:       time.Minute,
		RefreshTTL:      time.Hour,
		RateLimitPerMin: 1000,
		Location:        time.UTC,
	}, zaptest.NewLogger(t))
	ts.handler.now = func() time.Time { return ts.clock }
	ts.router = ts.handler.Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := auth.IssueAccess(subject, role, issuer, signingKey, time.Minute)
	require.NoError(t, err)
	return tok
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["db"])

	ts.handler.deps.Checks["redis"] = func(context.Context) bool { return false }
	rec = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestRecordScanCheckInAndOut(t *testing.T) {
	ts := newTestServer(t)
	gate := token(t, "gate-1", auth.RoleTerminal)

	rec := ts.do(t, http.MethodPost, "/v1/scans", gate, scanRequest{Badge: badge, ClassroomID: "c1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res attendance.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, attendance.In, res.Log.Direction)
	assert.Equal(t, attendance.OnTime, res.Log.Status)
	assert.Equal(t, "Room 101", res.Classroom.Name)

	ts.clock = ts.clock.Add(30 * time.Second)
	rec = ts.do(t, http.MethodPost, "/v1/scans", gate, scanRequest{Badge: badge, ClassroomID: "c1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, "too_soon", decode(t, rec)["code"])

	ts.clock = time.Date(2026, 10, 19, 8, 50, 0, 0, time.UTC)
	rec = ts.do(t, http.MethodPost, "/v1/scans", gate, scanRequest{Badge: badge, ClassroomID: "c1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, attendance.Out, res.Log.Direction)
	assert.Equal(t, attendance.EarlyLeave, res.Log.Status)

	ts.clock = ts.clock.Add(5 * time.Minute)
	rec = ts.do(t, http.MethodPost, "/v1/scans", gate, scanRequest{Badge: badge, ClassroomID: "c1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, ts.store.Logs(), 2)
}

func TestRecordScanErrors(t *testing.T) {
	gate := func(t *testing.T) string { return token(t, "gate-1", auth.RoleTerminal) }

	tests := []struct {
		name     string
		req      any
		prepare  func(ts *testServer)
		wantCode int
		wantErr  string
	}{
		{name: "missing badge", req: map[string]string{"classroom_id": "c1"}, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "malformed badge", req: scanRequest{Badge: "12345", ClassroomID: "c1"}, wantCode: http.StatusBadRequest, wantErr: "invalid_badge"},
		{name: "unknown badge", req: scanRequest{Badge: "0000000000", ClassroomID: "c1"}, wantCode: http.StatusNotFound, wantErr: "unknown_badge"},
		{name: "no schedule", req: scanRequest{Badge: badge, ClassroomID: "c1"}, prepare: func(ts *testServer) {
			ts.clock = time.Date(2026, 10, 20, 8, 5, 0, 0, time.UTC)
		}, wantCode: http.StatusUnprocessableEntity, wantErr: "no_schedule_today"},
		{name: "storage down", req: scanRequest{Badge: badge, ClassroomID: "c1"}, prepare: func(ts *testServer) {
			ts.store.FailReads = errors.New("dial tcp: connection refused")
		}, wantCode: http.StatusServiceUnavailable, wantErr: "persistence_failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			if tt.prepare != nil {
				tt.prepare(ts)
			}
			rec := ts.do(t, http.MethodPost, "/v1/scans", gate(t), tt.req)
			assert.Equal(t, tt.wantCode, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.wantErr, body["code"])
			assert.NotContains(t, body["error"], "connection refused")
			assert.Empty(t, ts.store.Logs())
		})
	}
}

func TestRoutesRequireRoles(t *testing.T) {
	ts := newTestServer(t)
	gate := token(t, "gate-1", auth.RoleTerminal)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/v1/scans", "", scanRequest{Badge: badge, ClassroomID: "c1"}).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/v1/attendance", gate, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/audits", gate, nil).Code)
}

func TestListAttendance(t *testing.T) {
	ts := newTestServer(t)
	admin := token(t, "admin-1", auth.RoleAdmin)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/scans", admin, scanRequest{Badge: badge, ClassroomID: "c1"}).Code)

	rec := ts.do(t, http.MethodGet, "/v1/attendance?teacher_id=t1&date=2026-10-19", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Logs []attendance.Log `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)
	assert.Equal(t, "08:05", body.Logs[0].ScanTime.String())

	rec = ts.do(t, http.MethodGet, "/v1/attendance?date=2026-10-18", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"logs":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/attendance?date=19/10/2026", admin, nil).Code)
}

func TestRunAudit(t *testing.T) {
	ts := newTestServer(t)
	admin := token(t, "admin-1", auth.RoleAdmin)
	ts.clock = time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)

	rec := ts.do(t, http.MethodPost, "/v1/audits", admin, auditRequest{Date: "2026-10-19"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["irregularities"])
	findings := body["findings"].([]any)
	require.Len(t, findings, 1)
	assert.Equal(t, "absent", findings[0].(map[string]any)["status"])

	rec = ts.do(t, http.MethodPost, "/v1/audits", admin, auditRequest{Date: "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTerminalRegisterAndRefresh(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/terminals/register", bytes.NewBufferString(`{"terminal_id":"gate-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "enroll key required")

	req = httptest.NewRequest(http.MethodPost, "/v1/terminals/register", bytes.NewBufferString(`{"terminal_id":"gate-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Enroll-Key", enrollKey)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, ts.terminals.terminals["gate-1"])

	first := decode(t, rec)
	access := first["access_token"].(string)
	refresh := first["refresh_token"].(string)

	rec = ts.do(t, http.MethodPost, "/v1/scans", access, scanRequest{Badge: badge, ClassroomID: "c1"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/terminals/refresh", "", refreshRequest{RefreshToken: access})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "access tokens cannot refresh")

	rec = ts.do(t, http.MethodPost, "/v1/terminals/refresh", "", refreshRequest{RefreshToken: refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, refresh, decode(t, rec)["refresh_token"])

	rec = ts.do(t, http.MethodPost, "/v1/terminals/refresh", "", refreshRequest{RefreshToken: refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh tokens are single use")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{attendance.ErrInvalidBadge, http.StatusBadRequest},
		{attendance.ErrUnknownBadge, http.StatusNotFound},
		{attendance.ErrUnknownClassroom, http.StatusNotFound},
		{attendance.ErrNoScheduleToday, http.StatusUnprocessableEntity},
		{&attendance.TooSoonError{Wait: time.Second}, http.StatusTooManyRequests},
		{attendance.ErrDuplicateDirection, http.StatusConflict},
		{errors.Join(attendance.ErrPersistence, errors.New("boom")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
