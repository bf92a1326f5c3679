package check

import (
	"context"
	"log/slog"
)

// Event names published after a check or a simple-mode attempt settles.
const (
	EventCheckCompleted     = "check.completed"
	EventCheckFailed        = "check.failed"
	EventSimpleRequested    = "simple.requested"
	EventSimpleVerified     = "simple.verified"
	EventVerificationFailed = "simple.verification_failed"
	EventHoneypotTriggered  = "abuse.honeypot"
	EventIPMismatch         = "abuse.ip_mismatch"
)

// Event is the payload handed to every registered handler once the
// core operation has committed its result.
type Event struct {
	Name     string
	IP       string
	Email    string
	UserID   string
	HostID   int64
	ReportID string
	Success  bool
	Reason   string
}

// Handler reacts to one event. Handlers never influence the core
// outcome, an error is logged and the remaining handlers still run.
type Handler func(ctx context.Context, ev Event) error

// Fanout invokes an ordered list of handlers synchronously. There is
// no bus and no retry, one broken listener cannot roll back the check.
type Fanout struct {
	log      *slog.Logger
	handlers []Handler
}

func NewFanout(log *slog.Logger, handlers ...Handler) *Fanout {
	return &Fanout{log: log, handlers: handlers}
}

func (f *Fanout) Subscribe(h Handler) {
	f.handlers = append(f.handlers, h)
}

func (f *Fanout) Publish(ctx context.Context, ev Event) {
	for i, h := range f.handlers {
		if err := h(ctx, ev); err != nil {
			f.log.ErrorContext(ctx, "Event handler failed",
				"event", ev.Name,
				"handler", i,
				"error", err)
		}
	}
}
