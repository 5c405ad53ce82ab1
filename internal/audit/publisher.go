package audit

import (
	"context"
	"time"
)

// Publisher is what services see: non-blocking submission of audit events.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// NopPublisher drops events. Used when the audit stream is not configured.
type NopPublisher struct{}

func (NopPublisher) Emit(ctx context.Context, event Event) {}

// ChannelPublisher buffers events on a channel drained by a Worker. Emit
// never blocks the request path: when the buffer is full the event is
// dropped and the drop is counted by the worker's metrics.
type ChannelPublisher struct {
	inbox   chan Event
	dropped func()
}

// NewChannelPublisher creates a buffered publisher. onDrop may be nil.
func NewChannelPublisher(buffer int, onDrop func()) *ChannelPublisher {
	return &ChannelPublisher{
		inbox:   make(chan Event, buffer),
		dropped: onDrop,
	}
}

func (p *ChannelPublisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		if p.dropped != nil {
			p.dropped()
		}
	}
}

// Inbox exposes the drain side for the worker.
func (p *ChannelPublisher) Inbox() <-chan Event {
	return p.inbox
}
