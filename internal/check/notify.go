package check

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/sshx"
)

// Template keys handed to the sender together with raw data. Rendering
// and delivery are not this package's concern.
const (
	TemplateCheckCompleted = "check_completed"
	TemplateCheckFailed    = "check_failed"
	TemplateAdminFailure   = "admin_check_failure"
	TemplateAdminParse     = "admin_parse_error"
)

// NotificationSender dispatches one templated message.
type NotificationSender interface {
	Send(ctx context.Context, template, recipient string, data map[string]any) error
}

type UserStore interface {
	FindUser(ctx context.Context, id string) (model.User, error)
}

// Notifier decides who hears about a settled check and with how much
// detail. Users get outcomes, the administrator gets diagnostics.
type Notifier struct {
	sender NotificationSender
	users  UserStore
	cfg    model.Checks
	admin  string
}

func NewNotifier(sender NotificationSender, users UserStore, cfg model.Checks, adminEmail string) *Notifier {
	return &Notifier{sender: sender, users: users, cfg: cfg, admin: adminEmail}
}

// CheckCompleted tells the requester (and the optional copy recipient)
// about the persisted report.
func (n *Notifier) CheckCompleted(ctx context.Context, job Job, report model.Report) {
	data := map[string]any{
		"report_id": report.ID,
		"ip":        report.IP,
		"host":      job.Host.FQDN,
		"blocked":   report.Blocked,
		"unblocked": report.Unblocked,
		"success":   report.Success,
		"summary":   report.Summary,
	}
	for _, recipient := range n.recipients(ctx, job) {
		if err := n.sender.Send(ctx, TemplateCheckCompleted, recipient, data); err != nil {
			slog.ErrorContext(ctx, "can't send completion notification",
				slog.String("recipient", recipient),
				slog.String("error", err.Error()))
		}
	}
}

// CheckFailed handles a terminal job failure. The requester only hears
// "temporary system error"; the administrator gets the diagnostic when
// the host is critical or the failure is connection level, gated by the
// notify_* settings.
func (n *Notifier) CheckFailed(ctx context.Context, job Job, jobErr error) {
	for _, recipient := range n.recipients(ctx, job) {
		if err := n.sender.Send(ctx, TemplateCheckFailed, recipient, map[string]any{
			"ip":      job.IP,
			"message": "temporary system error, please try again later",
		}); err != nil {
			slog.ErrorContext(ctx, "can't send failure notification",
				slog.String("recipient", recipient),
				slog.String("error", err.Error()))
		}
	}

	var connErr *sshx.ConnectionError
	connection := errors.As(jobErr, &connErr)
	critical := n.cfg.IsCritical(job.Host.FQDN)
	elevated := (connection && n.cfg.NotifyConnFailures) || (critical && n.cfg.NotifyCritical)
	if !elevated || n.admin == "" {
		return
	}

	data := map[string]any{
		"host":         job.Host.FQDN,
		"ip":           job.IP,
		"user_id":      job.UserID,
		"error_type":   errorType(jobErr),
		"error":        jobErr.Error(),
		"likely_cause": LikelyCause(jobErr),
		"critical":     critical,
	}
	if connection {
		data["attempts"] = connErr.Attempts
	}
	if err := n.sender.Send(ctx, TemplateAdminFailure, n.admin, data); err != nil {
		slog.ErrorContext(ctx, "can't send admin diagnostic",
			slog.String("error", err.Error()))
	}
}

// ParseError adapts the notifier to parser.NotifyFunc: raw candidate
// lines go to the administrator for manual log-format review.
func (n *Notifier) ParseError(ctx context.Context, subject string, lines []string) {
	if n.admin == "" {
		return
	}
	if err := n.sender.Send(ctx, TemplateAdminParse, n.admin, map[string]any{
		"subject": subject,
		"lines":   lines,
	}); err != nil {
		slog.ErrorContext(ctx, "can't send parse-error notification",
			slog.String("error", err.Error()))
	}
}

func (n *Notifier) recipients(ctx context.Context, job Job) []string {
	var out []string
	if job.Email != "" {
		out = append(out, job.Email)
	}
	for _, id := range []string{job.UserID, job.CopyUserID} {
		if id == "" {
			continue
		}
		u, err := n.users.FindUser(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "can't resolve notification recipient",
				slog.String("user_id", id),
				slog.String("error", err.Error()))
			continue
		}
		if u.Email != "" {
			out = append(out, u.Email)
		}
	}
	return out
}

func errorType(err error) string {
	var connErr *sshx.ConnectionError
	var keyErr *sshx.KeyProvisionError
	var cmdErr *sshx.CommandError
	switch {
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &keyErr):
		return "key_provisioning"
	case errors.As(err, &cmdErr):
		return "command"
	default:
		return "internal"
	}
}

// LikelyCause is a coarse heuristic attached to admin diagnostics so a
// 3am page starts with a hypothesis instead of a stack of wrapping.
func LikelyCause(err error) string {
	var keyErr *sshx.KeyProvisionError
	if errors.As(err, &keyErr) {
		return "public key installation through the panel failed; check panel API credentials"
	}
	var connErr *sshx.ConnectionError
	if errors.As(err, &connErr) {
		msg := connErr.Err.Error()
		switch {
		case strings.Contains(msg, "unable to authenticate"),
			strings.Contains(msg, "handshake failed"):
			return "authentication failure; the installed key was likely rejected by sshd"
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "no route to host"),
			strings.Contains(msg, "i/o timeout"):
			return "network unreachability; host down, firewalled or wrong address"
		default:
			return "connection level failure"
		}
	}
	return "internal error"
}
