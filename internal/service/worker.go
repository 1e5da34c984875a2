package service

import (
	"context"
	"log/slog"

	"github.com/unclebandit/chaser-backend/internal/queue"
)

// MessageDispatcher is the part of Dispatcher the worker needs.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, messageID string) error
}

// Subscriber is the part of queue.Queue the worker needs.
type Subscriber interface {
	Subscribe(topic string, handler func(payload any) error) error
}

// Worker processes dispatch jobs published by the chase tick.
type Worker struct {
	Dispatcher MessageDispatcher
	Queue      Subscriber
	Log        *slog.Logger
}

// NewWorker creates a worker
func NewWorker(d MessageDispatcher, q Subscriber, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{Dispatcher: d, Queue: q, Log: log}
}

// Start subscribes to the dispatch topic. Jobs run with ctx, so cancelling it
// leaves in-flight messages queued for a later run.
func (w *Worker) Start(ctx context.Context) error {
	return w.Queue.Subscribe(queue.DispatchTopic, func(payload any) error {
		job, err := queue.DecodeDispatchJob(payload)
		if err != nil {
			// A malformed job never becomes valid, so it is not retried.
			w.Log.Error("invalid dispatch job", "error", err)
			return nil
		}
		if err := w.Dispatcher.Dispatch(ctx, job.MessageID); err != nil {
			w.Log.Warn("dispatch job failed", "message_id", job.MessageID, "error", err)
			return err
		}
		return nil
	})
}
