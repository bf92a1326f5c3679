// Package guard enforces the multi-vector throttles in front of the
// anonymous simple-mode flow and keeps the advisory reputation
// counters. Counters live in the store and are incremented atomically,
// so independent workers never undercount.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/unblockd/unblockd/internal/model"
)

// CounterStore is the persistence the guard needs.
type CounterStore interface {
	IncrementCounter(ctx context.Context, vector model.Vector, identifier string, windowStart time.Time) (int64, error)
	CreateIncident(ctx context.Context, vector model.Vector, identifier, reason string) (string, error)
}

// ContactVerifier confirms an anonymous requester controls the contact
// address, typically via a one-time code. Delivery is not the guard's
// concern.
type ContactVerifier interface {
	Verify(ctx context.Context, email, token string) (bool, error)
}

// ThrottledError reports which vector tripped.
type ThrottledError struct {
	Vector     model.Vector
	Identifier string
	Count      int64
	Limit      int64
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled: %s %q at %d of %d in the current window", e.Vector, e.Identifier, e.Count, e.Limit)
}

// Guard evaluates all throttle vectors for one simple-mode attempt.
type Guard struct {
	store CounterStore
	cfg   model.Simple
	log   *slog.Logger
	now   func() time.Time
}

func New(store CounterStore, cfg model.Simple, log *slog.Logger) *Guard {
	return &Guard{store: store, cfg: cfg, log: log, now: time.Now}
}

type vectorCheck struct {
	vector     model.Vector
	identifier string
	limit      int64
}

// Allow increments every configured vector counter and fails on the
// first one over its limit. Vectors are evaluated in a fixed order so
// the incident trail stays comparable across requests. A violation
// also creates an abuse incident.
func (g *Guard) Allow(ctx context.Context, ip, email string) error {
	window := g.now().UTC().Truncate(g.cfg.Window())

	checks := []vectorCheck{
		{model.VectorIP, ip, int64(g.cfg.IPLimit)},
		{model.VectorEmail, strings.ToLower(email), int64(g.cfg.EmailLimit)},
		{model.VectorDomain, DomainOf(email), int64(g.cfg.DomainLimit)},
		{model.VectorSubnet, SubnetOf(ip), int64(g.cfg.SubnetLimit)},
		{model.VectorGlobal, "*", int64(g.cfg.GlobalLimit)},
	}
	for _, c := range checks {
		if c.limit <= 0 || c.identifier == "" {
			continue
		}
		count, err := g.store.IncrementCounter(ctx, c.vector, c.identifier, window)
		if err != nil {
			return fmt.Errorf("incrementing %s counter: %w", c.vector, err)
		}
		if count > c.limit {
			g.log.WarnContext(ctx, "Throttle violation",
				"vector", c.vector,
				"identifier", c.identifier,
				"count", count,
				"limit", c.limit)
			if _, ierr := g.store.CreateIncident(ctx, c.vector, c.identifier,
				fmt.Sprintf("rate limit exceeded: %d of %d", count, c.limit)); ierr != nil {
				g.log.ErrorContext(ctx, "Can't record abuse incident", "error", ierr)
			}
			return &ThrottledError{Vector: c.vector, Identifier: c.identifier, Count: count, Limit: c.limit}
		}
	}
	return nil
}

// Honeypot logs a request that filled the hidden form field. The abuse
// incident itself is opened by the event handlers, a single hit must
// not show up twice. Callers still answer as if the check succeeded.
func (g *Guard) Honeypot(ctx context.Context, ip string) {
	g.log.WarnContext(ctx, "Honeypot triggered", "ip", ip)
}

// DomainOf returns the lowercased domain part of an email address,
// empty when the input is not addr-shaped.
func DomainOf(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// SubnetOf maps an address to its throttling aggregate, /24 for IPv4
// and /64 for IPv6. Unparseable input yields empty, the vector is then
// skipped rather than throttling strangers together.
func SubnetOf(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	bits := 64
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.String()
}
