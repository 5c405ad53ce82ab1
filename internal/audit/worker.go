package audit

import (
	"context"
	"log/slog"
)

// Sink persists audit events. KafkaSink in production; tests use an
// in-memory recorder.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Worker drains a publisher's inbox into a sink. A failed Append is logged
// and the event dropped; the request path never waits on the sink.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit append failed",
					"kind", string(event.Kind),
					"error", err.Error(),
				)
			}
		}
	}
}
