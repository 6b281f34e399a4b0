package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"schoolattendance/internal/metrics"
	"schoolattendance/internal/queue"
)

// Sink stores delivered notifications.
type Sink interface {
	Insert(ctx context.Context, n Notification) error
}

// Forwarder pushes notifications to an external system.
type Forwarder interface {
	Send(ctx context.Context, n Notification) error
}

// Worker consumes notification messages, stores them and forwards them.
type Worker struct {
	sink    Sink
	forward Forwarder
	log     *zap.Logger
}

// NewWorker builds a worker. forward may be nil.
func NewWorker(sink Sink, forward Forwarder, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{sink: sink, forward: forward, log: log}
}

// Run handles messages until the channel closes.
func (w *Worker) Run(ctx context.Context, msgs <-chan queue.Message) {
	for msg := range msgs {
		if err := w.Handle(ctx, msg); err != nil {
			w.log.Error("notification delivery failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}
}

// Handle processes one message. Messages of other types are skipped.
// A failed forward is logged but does not fail the message once stored.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeNotification {
		metrics.WorkerDeliveries.WithLabelValues("skipped").Inc()
		return nil
	}
	var n Notification
	if err := json.Unmarshal(msg.Body, &n); err != nil {
		metrics.WorkerDeliveries.WithLabelValues("malformed").Inc()
		return fmt.Errorf("decode notification: %w", err)
	}
	if err := w.sink.Insert(ctx, n); err != nil {
		metrics.WorkerDeliveries.WithLabelValues("store_failed").Inc()
		return fmt.Errorf("store notification %s: %w", n.ID, err)
	}
	if w.forward != nil {
		if err := w.forward.Send(ctx, n); err != nil {
			metrics.WorkerDeliveries.WithLabelValues("forward_failed").Inc()
			w.log.Warn("forwarding notification failed", zap.String("notification_id", n.ID), zap.Error(err))
			return nil
		}
	}
	metrics.WorkerDeliveries.WithLabelValues("delivered").Inc()
	w.log.Debug("notification delivered", zap.String("notification_id", n.ID), zap.String("user_id", n.UserID))
	return nil
}
