package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attendance"

var (
	// ScansRecorded counts persisted attendance logs.
	ScansRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_recorded_total",
		Help:      "Attendance logs written, by direction and status.",
	}, []string{"direction", "status"})

	// ScansRejected counts scans aborted before persistence.
	ScansRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_rejected_total",
		Help:      "Scans rejected before persistence, by reason.",
	}, []string{"reason"})

	ScheduleOverlaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_overlaps_total",
		Help:      "Scans that matched more than one schedule entry.",
	})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_published_total",
		Help:      "Notifications handed to the queue, by category.",
	}, []string{"category"})

	NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_failed_total",
		Help:      "Notification handoffs that failed, by stage.",
	}, []string{"stage"})

	AuditIrregularities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_irregularities_total",
		Help:      "Irregularities flagged by the batch auditor, by status.",
	}, []string{"status"})

	// WorkerDeliveries counts notifications processed by the worker.
	WorkerDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_deliveries_total",
		Help:      "Queue messages handled by the notification worker, by outcome.",
	}, []string{"outcome"})
)
