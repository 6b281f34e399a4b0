package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/queue"
)

// Publisher hands messages to the delivery pipeline. queue.Queue
// implementations satisfy it.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// AdminDirectory lists the user ids of all administrators.
type AdminDirectory interface {
	AdminIDs(ctx context.Context) ([]string, error)
}

// Options tunes a Notifier. Zero values pick the defaults.
type Options struct {
	// IncludeAdmins also sends irregularity notices to every admin.
	IncludeAdmins bool
	// Timeout bounds one handoff, detached from the caller's context.
	Timeout time.Duration
}

// Notifier turns recorded scans and audit findings into notifications and
// publishes them. It never reports failures to its caller; they are logged
// and counted.
type Notifier struct {
	pub     Publisher
	admins  AdminDirectory
	log     *zap.Logger
	opts    Options
	nowFunc func() time.Time
}

// New creates a Notifier publishing to pub. admins may be nil.
func New(pub Publisher, admins AdminDirectory, log *zap.Logger, opts Options) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Notifier{pub: pub, admins: admins, log: log, opts: opts, nowFunc: time.Now}
}

// ScanRecorded implements attendance.ScanNotifier.
func (n *Notifier) ScanRecorded(ctx context.Context, res attendance.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.opts.Timeout)
	defer cancel()

	now := n.nowFunc()
	admins := n.adminIDs(ctx)

	var batch []Notification
	if irr, ok := IrregularityOf(res); ok {
		batch = append(batch, IrregularityNotifications(irr, admins, n.opts.IncludeAdmins, now)...)
	}
	batch = append(batch, ActionNotifications(res, admins, now)...)
	n.publish(ctx, batch)
}

// Irregularity publishes the notices for one irregularity.
func (n *Notifier) Irregularity(ctx context.Context, irr Irregularity) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.opts.Timeout)
	defer cancel()

	var admins []string
	if n.opts.IncludeAdmins {
		admins = n.adminIDs(ctx)
	}
	n.publish(ctx, IrregularityNotifications(irr, admins, n.opts.IncludeAdmins, n.nowFunc()))
}

func (n *Notifier) adminIDs(ctx context.Context) []string {
	if n.admins == nil {
		return nil
	}
	ids, err := n.admins.AdminIDs(ctx)
	if err != nil {
		metrics.NotificationsFailed.WithLabelValues("admins").Inc()
		n.log.Warn("listing admins failed, skipping admin notifications", zap.Error(err))
		return nil
	}
	return ids
}

func (n *Notifier) publish(ctx context.Context, batch []Notification) {
	for _, note := range batch {
		body, err := json.Marshal(note)
		if err != nil {
			metrics.NotificationsFailed.WithLabelValues("encode").Inc()
			n.log.Error("encoding notification failed", zap.String("notification_id", note.ID), zap.Error(err))
			continue
		}
		if err := n.pub.Publish(ctx, queue.Message{Type: queue.TypeNotification, Body: body}); err != nil {
			metrics.NotificationsFailed.WithLabelValues("publish").Inc()
			n.log.Error("publishing notification failed",
				zap.String("notification_id", note.ID),
				zap.String("user_id", note.UserID),
				zap.Error(err),
			)
			continue
		}
		metrics.NotificationsPublished.WithLabelValues(string(note.Category)).Inc()
	}
}
