// Package check orchestrates one unblock check end to end: input
// validation, authorization, ephemeral key provisioning, the SSH
// diagnostic and remediation sequence, report persistence and the
// event fan-out afterwards.
package check

import (
	"context"
	"log/slog"
	"time"

	"github.com/unblockd/unblockd/internal/firewall"
	"github.com/unblockd/unblockd/internal/log"
	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/sshx"
)

// Job is one queued check. ReportID is assigned on enqueue so callers
// can look the report up once the asynchronous work settles.
type Job struct {
	ID         string
	ReportID   string
	IP         string
	UserID     string
	CopyUserID string
	// Email is the anonymous simple-mode contact, empty for the
	// authenticated path.
	Email string
	Host  model.Host
}

// Session is the command channel to one host, satisfied by
// *sshx.Session.
type Session interface {
	Execute(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer opens an authenticated session, retrying per cfg.
type Dialer func(ctx context.Context, host model.Host, cred model.Credential, cfg sshx.DialConfig) (Session, error)

// SSHDialer adapts sshx.Dial to the Dialer shape.
func SSHDialer(ctx context.Context, host model.Host, cred model.Credential, cfg sshx.DialConfig) (Session, error) {
	return sshx.Dial(ctx, host, cred, cfg)
}

// KeyProvisioner manages the per-check key pair, satisfied by
// *sshx.KeyManager.
type KeyProvisioner interface {
	Provision(ctx context.Context, host model.Host) (model.Credential, error)
	Revoke(ctx context.Context, host model.Host, cred model.Credential) error
}

// RunnerStore persists the check outcome and the host key pinned on
// the first successful connect.
type RunnerStore interface {
	SaveReport(ctx context.Context, r model.Report) error
	PinHostKey(ctx context.Context, hostID int64, hostKey string) error
}

// Runner executes the pipeline of a single job. Commands against one
// host run strictly sequentially, concurrency exists only across jobs.
type Runner struct {
	keys      KeyProvisioner
	dial      Dialer
	engine    *firewall.Engine
	unblocker *firewall.Unblocker
	store     RunnerStore
	cfg       model.Checks
	now       func() time.Time
}

func NewRunner(keys KeyProvisioner, dial Dialer, engine *firewall.Engine, unblocker *firewall.Unblocker, store RunnerStore, cfg model.Checks) *Runner {
	return &Runner{
		keys:      keys,
		dial:      dial,
		engine:    engine,
		unblocker: unblocker,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Execute provisions a key, connects, analyzes and remediates, then
// persists the report. The key is revoked on every path out. A non-nil
// error is terminal for the job (provisioning, connection after the
// retry budget, or persistence); remediation failures are not errors
// here, they land in the report with Success=false.
func (r *Runner) Execute(ctx context.Context, job Job) (model.Report, error) {
	ctx = log.ContextAttrs(ctx,
		slog.String("host", job.Host.FQDN),
		slog.String("ip", job.IP),
	)

	cred, err := r.keys.Provision(ctx, job.Host)
	if err != nil {
		return model.Report{}, err
	}
	defer func() {
		if err := r.keys.Revoke(ctx, job.Host, cred); err != nil {
			slog.ErrorContext(ctx, "key revocation incomplete, sweep will collect leftovers",
				slog.String("error", err.Error()))
		}
	}()

	sess, err := r.dial(ctx, job.Host, cred, sshx.DialConfig{
		Attempts: r.cfg.MaxRetryAttempts,
		Delay:    r.cfg.RetryDelay(),
		HostKey:  job.Host.HostKey,
		PinHostKey: func(ctx context.Context, hostKey string) error {
			return r.store.PinHostKey(ctx, job.Host.ID, hostKey)
		},
	})
	if err != nil {
		return model.Report{}, err
	}
	defer func() {
		_ = sess.Close()
	}()

	analysis, cmdErrs := r.engine.Analyze(ctx, sess, job.Host.Panel, job.IP)
	if len(cmdErrs) > 0 {
		slog.WarnContext(ctx, "analysis finished with partial results",
			slog.Int("failed_commands", len(cmdErrs)))
	}

	removal := firewall.RemovalResult{Success: true, Message: "no block found"}
	if analysis.WasBlocked() {
		var remErr error
		removal, remErr = r.unblocker.Remove(ctx, sess, job.IP, analysis)
		if remErr != nil {
			// not retried, a blind repeat of a removal command risks
			// duplicate side effects
			slog.ErrorContext(ctx, "remediation command failed",
				slog.String("error", remErr.Error()))
			removal.Success = false
			removal.Message = removal.Message + ": " + remErr.Error()
		}
	}

	now := r.now().UTC()
	report := model.Report{
		ID:        job.ReportID,
		UserID:    job.UserID,
		HostID:    job.Host.ID,
		IP:        job.IP,
		Services:  analysis.Services,
		Summary:   removal.Message,
		Blocked:   analysis.WasBlocked(),
		Unblocked: analysis.WasBlocked() && removal.Success,
		Success:   removal.Success,
		CreatedAt: now,
		ExpiresAt: now.Add(r.cfg.ReportTTL()),
	}
	if err := r.store.SaveReport(ctx, report); err != nil {
		return model.Report{}, err
	}
	slog.InfoContext(ctx, "check finished",
		slog.String("report_id", report.ID),
		slog.Bool("blocked", report.Blocked),
		slog.Bool("success", report.Success),
	)
	return report, nil
}
