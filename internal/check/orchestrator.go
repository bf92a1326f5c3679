package check

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/uuid"

	"github.com/unblockd/unblockd/internal/model"
)

// AccessStore is the persistence the orchestrator consults before any
// SSH work starts.
type AccessStore interface {
	FindHost(ctx context.Context, id int64) (model.Host, error)
	CheckAccess(ctx context.Context, userID string, hostID int64) (bool, error)
}

// Enqueuer accepts a validated, authorized job, satisfied by
// *Supervisor.
type Enqueuer interface {
	Enqueue(job Job) error
}

// RunInput is one requested check.
type RunInput struct {
	IP         string
	UserID     string
	HostID     int64
	CopyUserID string
	// Email is the simple-mode contact address, empty otherwise.
	Email string
	// Develop skips SSH and persistence entirely and returns a
	// synthetic success, for operational tooling only.
	Develop bool
}

// RunResult confirms enqueuing, not the check itself. The outcome is
// observable through the report and its notifications.
type RunResult struct {
	Success  bool
	Message  string
	ReportID string
}

// Orchestrator validates and authorizes a request, then hands it over
// to the queue.
type Orchestrator struct {
	store AccessStore
	queue Enqueuer
}

func NewOrchestrator(store AccessStore, queue Enqueuer) *Orchestrator {
	return &Orchestrator{store: store, queue: queue}
}

// Run is the sole entry point. Validation and authorization happen
// synchronously and before any remote work; both are mandatory for the
// queued path too, there is no bypass.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (RunResult, error) {
	if _, err := netip.ParseAddr(in.IP); err != nil {
		return RunResult{}, &InvalidIPError{Value: in.IP}
	}

	host, err := o.store.FindHost(ctx, in.HostID)
	if err != nil {
		return RunResult{}, fmt.Errorf("looking up host %d: %w", in.HostID, err)
	}

	ok, err := o.store.CheckAccess(ctx, in.UserID, in.HostID)
	if err != nil {
		return RunResult{}, fmt.Errorf("checking access: %w", err)
	}
	if !ok {
		slog.WarnContext(ctx, "access denied",
			slog.String("user_id", in.UserID),
			slog.Int64("host_id", in.HostID),
		)
		return RunResult{}, &AccessDeniedError{UserID: in.UserID, HostID: in.HostID}
	}

	if in.Develop {
		return RunResult{Success: true, Message: "develop mode, no check performed"}, nil
	}

	job := Job{
		ID:         uuid.NewString(),
		ReportID:   uuid.NewString(),
		IP:         in.IP,
		UserID:     in.UserID,
		CopyUserID: in.CopyUserID,
		Email:      in.Email,
		Host:       host,
	}
	if err := o.queue.Enqueue(job); err != nil {
		return RunResult{}, fmt.Errorf("enqueuing check: %w", err)
	}
	slog.InfoContext(ctx, "check enqueued",
		slog.String("job_id", job.ID),
		slog.String("report_id", job.ReportID),
		slog.String("host", host.FQDN),
		slog.String("ip", in.IP),
	)
	return RunResult{Success: true, Message: "check enqueued", ReportID: job.ReportID}, nil
}
