package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/parser"
)

// RemovalResult is the outcome of one unblock attempt.
type RemovalResult struct {
	Success bool
	Message string
	// Output carries the raw verification output when the IP is still
	// present after removal, for administrator diagnosis.
	Output string
}

// Unblocker issues deny-list removal commands and verifies the outcome.
type Unblocker struct {
	parser *parser.Parser
}

func NewUnblocker(p *parser.Parser) *Unblocker {
	return &Unblocker{parser: p}
}

// Remove branches strictly on which deny lists matched: permanent
// removal first, then temporary - a host still in a temp block pending
// permanent removal must not report a false clean state in between.
// After each removal the corresponding check command is re-run and the
// IP must no longer appear; if it still does the result is a failure
// with the raw output attached. Never retried here - retries are an
// orchestrator-level policy.
func (u *Unblocker) Remove(ctx context.Context, exec Executor, ip string, analysis model.Analysis) (RemovalResult, error) {
	if !analysis.WasBlocked() {
		return RemovalResult{Success: true, Message: "no block found, nothing to remove"}, nil
	}

	type removal struct {
		command string
		needle  string
		label   string
	}
	var removals []removal
	if analysis.PermanentMatched() {
		removals = append(removals, removal{removePermanentCmd, "csf.deny", "permanent deny"})
	}
	if analysis.TemporaryMatched() {
		removals = append(removals, removal{removeTemporaryCmd, "Temporary Blocks", "temporary block"})
	}

	var done []string
	for _, r := range removals {
		cmd := strings.ReplaceAll(r.command, "{ip}", ip)
		if _, err := exec.Execute(ctx, cmd); err != nil {
			return RemovalResult{
				Success: false,
				Message: fmt.Sprintf("removing %s failed", r.label),
			}, err
		}

		out, err := exec.Execute(ctx, strings.ReplaceAll(csfGrepCmd, "{ip}", ip))
		if err != nil {
			return RemovalResult{
				Success: false,
				Message: fmt.Sprintf("verification after %s removal failed", r.label),
			}, err
		}
		finding := u.parser.Parse(out)
		if match := u.parser.ExtractDenyMatch(ctx, finding.Lines, r.needle); !match.IsZero() {
			slog.ErrorContext(ctx, "ip still present after removal",
				slog.String("ip", ip),
				slog.String("list", r.label),
			)
			return RemovalResult{
				Success: false,
				Message: fmt.Sprintf("%s removal did not take effect, ip still listed", r.label),
				Output:  out,
			}, nil
		}
		done = append(done, r.label)
	}

	return RemovalResult{
		Success: true,
		Message: fmt.Sprintf("removed %s for %s", strings.Join(done, " and "), ip),
	}, nil
}
