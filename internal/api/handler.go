package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/audit"
)

// Recorder records badge scans. *attendance.Service satisfies it.
type Recorder interface {
	RecordScan(ctx context.Context, badge, classroomID string, now time.Time) (attendance.Result, error)
}

// LogLister lists persisted attendance logs.
type LogLister interface {
	ListLogs(ctx context.Context, f attendance.LogFilter) ([]attendance.Log, error)
}

// Auditor runs the batch irregularity sweep.
type Auditor interface {
	Audit(ctx context.Context, date, now time.Time) (audit.Report, error)
}

// TerminalStore keeps registered terminals and their refresh tokens.
type TerminalStore interface {
	UpsertTerminal(ctx context.Context, terminalID string) error
	SaveRefreshToken(ctx context.Context, terminalID, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string) (string, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services behind the handlers.
type Deps struct {
	Recorder  Recorder
	Logs      LogLister
	Auditor   Auditor
	Terminals TerminalStore
	Checks    map[string]HealthCheck
}

// Config carries token and limiter settings.
type Config struct {
	SigningKey      string
	Issuer          string
	EnrollKey       string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RateLimitPerMin int
	Location        *time.Location
}

// Handler serves the HTTP API.
type Handler struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
	now  func() time.Time

	// auditMu keeps audit runs from overlapping.
	auditMu sync.Mutex
}

// New creates a Handler. log may be nil.
func New(deps Deps, cfg Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Handler{deps: deps, cfg: cfg, log: log, now: time.Now}
}

// ---------- Health ----------

// Healthz reports each dependency check; any failure gives 503.
func (h *Handler) Healthz(c *gin.Context) {
	status, body := http.StatusOK, gin.H{"status": "ok"}
	for name, check := range h.deps.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Scans ----------

type scanRequest struct {
	Badge       string `json:"badge" binding:"required"`
	ClassroomID string `json:"classroom_id" binding:"required"`
}

// RecordScan accepts one badge scan from a terminal.
func (h *Handler) RecordScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
		return
	}

	res, err := h.deps.Recorder.RecordScan(c.Request.Context(), req.Badge, req.ClassroomID, h.now())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ---------- Attendance ----------

// ListAttendance lists logs filtered by teacher, classroom and date.
func (h *Handler) ListAttendance(c *gin.Context) {
	f := attendance.LogFilter{
		TeacherID:   c.Query("teacher_id"),
		ClassroomID: c.Query("classroom_id"),
		Date:        c.Query("date"),
		Limit:       50,
	}
	if f.Date != "" {
		if _, err := time.Parse(attendance.DateLayout, f.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD", "code": "bad_request"})
			return
		}
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}

	logs, err := h.deps.Logs.ListLogs(c.Request.Context(), f)
	if err != nil {
		h.log.Error("listing attendance failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": attendance.ErrPersistence.Error(), "code": "persistence_failure"})
		return
	}
	if logs == nil {
		logs = []attendance.Log{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// ---------- Audits ----------

type auditRequest struct {
	Date string `json:"date"`
}

type finding struct {
	TeacherID   string                `json:"teacher_id"`
	TeacherName string                `json:"teacher_name"`
	ClassroomID string                `json:"classroom_id"`
	ScheduleID  string                `json:"schedule_id"`
	Direction   attendance.Direction  `json:"scan_type"`
	Status      attendance.Status     `json:"status"`
	ScanTime    *attendance.TimeOfDay `json:"scan_time,omitempty"`
}

// RunAudit sweeps one day, today when no date is given.
func (h *Handler) RunAudit(c *gin.Context) {
	var req auditRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
			return
		}
	}
	now := h.now().In(h.cfg.Location)
	date := now
	if req.Date != "" {
		parsed, err := time.ParseInLocation(attendance.DateLayout, req.Date, h.cfg.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD", "code": "bad_request"})
			return
		}
		date = parsed
	}

	if !h.auditMu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "an audit is already running", "code": "audit_running"})
		return
	}
	defer h.auditMu.Unlock()

	rep, err := h.deps.Auditor.Audit(c.Request.Context(), date, now)
	if err != nil {
		h.log.Error("audit failed", zap.String("date", req.Date), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit failed", "code": "persistence_failure"})
		return
	}

	findings := make([]finding, 0, len(rep.Findings))
	for _, irr := range rep.Findings {
		findings = append(findings, finding{
			TeacherID:   irr.Teacher.ID,
			TeacherName: irr.Teacher.Name,
			ClassroomID: irr.Classroom.ID,
			ScheduleID:  irr.Schedule.ID,
			Direction:   irr.Direction,
			Status:      irr.Status,
			ScanTime:    irr.ScanTime,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"date":              rep.Date,
		"schedules_checked": rep.Checked,
		"irregularities":    len(rep.Findings),
		"findings":          findings,
	})
}

// ---------- Errors ----------

func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrInvalidBadge):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrUnknownBadge), errors.Is(err, attendance.ErrUnknownClassroom):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrNoScheduleToday):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrTooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, attendance.ErrDuplicateDirection):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusTooManyRequests:
		wait := time.Second
		var tooSoon *attendance.TooSoonError
		if errors.As(err, &tooSoon) {
			wait = tooSoon.Wait
		}
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	case http.StatusServiceUnavailable:
		msg = attendance.ErrPersistence.Error()
		h.log.Error("scan failed", zap.Error(err))
	case http.StatusInternalServerError:
		msg = "internal error"
		h.log.Error("scan failed", zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": attendance.Reason(err)})
}
