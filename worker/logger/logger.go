// Package logger provides a worker middleware, which logs worker events via log/slog.
package logger

import (
	"context"
	"log/slog"

	"github.com/gclaussn/go-external-task/worker"
)

// New returns a middleware, which logs worker events. Errors are logged at level ERROR, subscriptions, task operations
// and stops at level INFO and poll cycles at level DEBUG.
//
// If l is nil, [slog.Default] is used.
func New(l *slog.Logger) func(*worker.Worker) {
	if l == nil {
		l = slog.Default()
	}

	return func(w *worker.Worker) {
		wl := l.With("workerId", w.Id())
		w.AddListener(func(event worker.Event) {
			log(wl, event)
		})
	}
}

func log(l *slog.Logger, event worker.Event) {
	attrs := []slog.Attr{slog.String("event", string(event.Type))}
	if event.Topic != "" {
		attrs = append(attrs, slog.String("topic", event.Topic))
	}
	if event.Task != nil {
		attrs = append(attrs, slog.String("taskId", event.Task.Id))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}

	level := slog.LevelInfo
	msg := ""

	switch event.Type {
	case worker.EventSubscribe:
		msg = "subscribed"
	case worker.EventUnsubscribe:
		msg = "unsubscribed"
	case worker.EventPollStart:
		level = slog.LevelDebug
		msg = "polling"
	case worker.EventPollStop:
		msg = "polling stopped"
	case worker.EventPollSuccess:
		level = slog.LevelDebug
		msg = "polled"
		attrs = append(attrs, slog.Int("tasks", len(event.Tasks)))
	case worker.EventPollError:
		msg = "failed to poll"
	case worker.EventHandlerError:
		msg = "handler failed"
	default:
		msg = "task operation"
	}

	if event.IsError() {
		level = slog.LevelError
		attrs = append(attrs, slog.Any("err", event.Err))
	}

	l.LogAttrs(context.Background(), level, msg, attrs...)
}
