package firewall

import (
	"context"
	"log/slog"

	"github.com/unblockd/unblockd/internal/log"
	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/parser"
)

// Executor runs one remote command and returns its combined output.
// Satisfied by *sshx.Session.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Engine drives the diagnostic sequence for one host/IP pair.
type Engine struct {
	parser *parser.Parser
}

func NewEngine(p *parser.Parser) *Engine {
	return &Engine{parser: p}
}

// Analyze executes every probe of the panel's sequence in order and
// aggregates the per-service findings. A single probe failing is caught
// and recorded as an empty finding rather than aborting the analysis -
// partial information beats total failure. The command errors are
// returned alongside so the orchestrator can log and count them.
func (e *Engine) Analyze(ctx context.Context, exec Executor, panel model.Panel, ip string) (model.Analysis, []error) {
	analysis := model.Analysis{
		IP:       ip,
		Services: make(map[string]model.ServiceLog),
	}
	var cmdErrs []error

	for _, probe := range ProbesFor(panel) {
		ctx := log.ContextAttrs(ctx, slog.String("service", probe.Service))
		out, err := exec.Execute(ctx, probe.Render(ip))
		if err != nil {
			slog.ErrorContext(ctx, "diagnostic command failed",
				slog.String("service", probe.Service),
				slog.String("error", err.Error()),
			)
			cmdErrs = append(cmdErrs, err)
			analysis.Services[probe.Service] = model.ServiceLog{Temporary: probe.Temporary}
			continue
		}

		finding := e.parser.Parse(out)
		var match model.DenyMatch
		if len(probe.Needles) > 0 {
			match = e.parser.ExtractDenyMatch(ctx, finding.Lines, probe.Needles...)
		} else {
			match = e.parser.ExtractPresence(ctx, finding.Lines, ip)
		}
		analysis.Services[probe.Service] = model.ServiceLog{
			Finding:   finding,
			Match:     match,
			Temporary: probe.Temporary,
		}
	}
	return analysis, cmdErrs
}
