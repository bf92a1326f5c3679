package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/unblockd/unblockd/internal/check"
	"github.com/unblockd/unblockd/internal/firewall"
	"github.com/unblockd/unblockd/internal/guard"
	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/parser"
	"github.com/unblockd/unblockd/internal/sshx"
	"github.com/unblockd/unblockd/internal/store"
	"github.com/unblockd/unblockd/internal/web"
)

// simpleUserID is the service account anonymous self-service checks run
// under. It must exist and hold grants for the hosts the simple flow may
// touch, so the grant check stays in the path for every request.
const simpleUserID = "simple"

// app holds the wired service graph for the run command.
type app struct {
	store      *store.Store
	keys       *sshx.KeyManager
	supervisor *check.Supervisor
	web        *web.Server
	scheduler  gocron.Scheduler
}

func newApp(ctx context.Context, config model.Config) (*app, error) {
	st, err := store.Open(ctx, config.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", config.Store.Path, err)
	}

	installer := sshx.NewHookInstaller(config.Keys.InstallHook, config.Keys.RemoveHook)
	keys, err := sshx.NewKeyManager(config.Keys.Dir, installer)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initializing key manager: %w", err)
	}

	notifier := check.NewNotifier(logSender{}, st, config.Checks, config.Admin.Email)
	p := parser.New(notifier.ParseError)
	engine := firewall.NewEngine(p)
	unblocker := firewall.NewUnblocker(p)
	runner := check.NewRunner(keys, check.SSHDialer, engine, unblocker, st, config.Checks)

	logger := slog.Default()
	events := check.NewFanout(logger,
		guard.ReputationHandler(st),
		guard.IncidentHandler(st, logger, config.Simple.Attempts),
	)
	supervisor := check.NewSupervisor(runner, notifier, events, config.Checks.Workers)
	orchestrator := check.NewOrchestrator(st, supervisor)

	// simple mode stays dark until a secret is configured
	var verifier web.ContactVerifier
	if config.Simple.Secret != "" {
		verifier, err = guard.NewHMACVerifier(config.Simple.Secret)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("initializing contact verifier: %w", err)
		}
	}

	server := web.New(
		config.Server,
		orchestrator,
		st,
		guard.New(st, config.Simple, logger),
		verifier,
		events,
		simpleUserID,
	)

	a := &app{
		store:      st,
		keys:       keys,
		supervisor: supervisor,
		web:        server,
	}

	if config.Sweep != nil {
		a.scheduler, err = newSweeper(ctx, *config.Sweep, a.sweep, config.Keys)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
	}

	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		slog.ErrorContext(ctx, "closing store has failed", "error", err)
	}
}

// sweep runs the periodic maintenance tasks. Failures are logged, a bad
// run never stops the next one.
func (a *app) sweep(ctx context.Context, keys model.Keys) {
	now := time.Now().UTC()

	if n, err := a.store.PurgeExpiredReports(ctx, now); err != nil {
		slog.ErrorContext(ctx, "purging expired reports has failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "purged expired reports", "count", n)
	}

	cutoff := now.Add(-keys.MaxAge())
	if n, err := a.store.PruneCounters(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "pruning throttle counters has failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "pruned throttle counters", "count", n)
	}

	if n, err := a.keys.SweepStale(ctx, keys.MaxAge()); err != nil {
		slog.ErrorContext(ctx, "sweeping stale key material has failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "swept stale key material", "count", n)
	}
}

func newSweeper(ctx context.Context, cfg model.Sweep, sweep func(context.Context, model.Keys), keys model.Keys) (gocron.Scheduler, error) {
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		d, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing sweep.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "interval", d.String())
	case cfg.Duration != "":
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing sweep.duration: %w", err)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	default:
		return nil, fmt.Errorf("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(func() { sweep(ctx, keys) }),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
