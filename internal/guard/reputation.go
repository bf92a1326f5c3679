package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/unblockd/unblockd/internal/check"
	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/store"
)

// defaultFailedVerifications is the fallback threshold when the
// configured simple.attempts is absent or nonsense.
const defaultFailedVerifications = 3

// ReputationStore is what the event handlers need from persistence.
type ReputationStore interface {
	BumpReputation(ctx context.Context, identifier string, field store.ReputationField) error
	FindReputation(ctx context.Context, identifier string) (model.Reputation, error)
	CreateIncident(ctx context.Context, vector model.Vector, identifier, reason string) (string, error)
}

// ReputationHandler accumulates per-email and per-IP counters from
// simple-mode outcome events. Counters only ever grow.
func ReputationHandler(s ReputationStore) check.Handler {
	return func(ctx context.Context, ev check.Event) error {
		var field store.ReputationField
		switch ev.Name {
		case check.EventSimpleRequested:
			field = store.ReputationRequested
		case check.EventSimpleVerified:
			field = store.ReputationVerified
		case check.EventVerificationFailed:
			field = store.ReputationFailed
		default:
			return nil
		}
		var errs []error
		if ev.Email != "" {
			errs = append(errs, s.BumpReputation(ctx, ev.Email, field))
		}
		if ev.IP != "" {
			errs = append(errs, s.BumpReputation(ctx, ev.IP, field))
		}
		return errors.Join(errs...)
	}
}

// IncidentHandler opens abuse incidents for honeypot hits, IP
// mismatches and contacts whose verification keeps failing. attempts
// is how many failed verifications one contact gets per incident,
// values below 1 fall back to the default.
func IncidentHandler(s ReputationStore, log *slog.Logger, attempts int) check.Handler {
	if attempts < 1 {
		attempts = defaultFailedVerifications
	}
	return func(ctx context.Context, ev check.Event) error {
		switch ev.Name {
		case check.EventHoneypotTriggered:
			_, err := s.CreateIncident(ctx, model.VectorIP, ev.IP, "honeypot field submitted")
			return err
		case check.EventIPMismatch:
			_, err := s.CreateIncident(ctx, model.VectorIP, ev.IP, ev.Reason)
			return err
		case check.EventVerificationFailed:
			if ev.Email == "" {
				return nil
			}
			rep, err := s.FindReputation(ctx, ev.Email)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			if rep.Failed > 0 && rep.Failed%int64(attempts) == 0 {
				log.WarnContext(ctx, "Repeated verification failures",
					"email", ev.Email,
					"failed", rep.Failed)
				_, err := s.CreateIncident(ctx, model.VectorEmail, ev.Email,
					fmt.Sprintf("verification failed %d times", rep.Failed))
				return err
			}
			return nil
		default:
			return nil
		}
	}
}
