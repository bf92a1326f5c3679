package guard_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/unblockd/unblockd/internal/check"
	"github.com/unblockd/unblockd/internal/guard"
	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	counters   map[string]int64
	reputation map[string]*model.Reputation
	incidents  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counters:   make(map[string]int64),
		reputation: make(map[string]*model.Reputation),
	}
}

func (f *fakeStore) IncrementCounter(_ context.Context, vector model.Vector, identifier string, windowStart time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%s/%d", vector, identifier, windowStart.Unix())
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeStore) CreateIncident(_ context.Context, vector model.Vector, identifier, reason string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = append(f.incidents, fmt.Sprintf("%s/%s: %s", vector, identifier, reason))
	return "incident-1", nil
}

func (f *fakeStore) BumpReputation(_ context.Context, identifier string, field store.ReputationField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reputation[identifier]
	if !ok {
		r = &model.Reputation{Identifier: identifier}
		f.reputation[identifier] = r
	}
	switch field {
	case store.ReputationRequested:
		r.Requested++
	case store.ReputationVerified:
		r.Verified++
	case store.ReputationFailed:
		r.Failed++
	}
	return nil
}

func (f *fakeStore) FindReputation(_ context.Context, identifier string) (model.Reputation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reputation[identifier]; ok {
		return *r, nil
	}
	return model.Reputation{}, store.ErrNotFound
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestGuardAllow(t *testing.T) {
	t.Parallel()
	cfg := model.Simple{
		WindowSeconds: 3600,
		IPLimit:       2, EmailLimit: 3, DomainLimit: 5, SubnetLimit: 10, GlobalLimit: 100,
	}

	t.Run("under every limit", func(t *testing.T) {
		fs := newFakeStore()
		g := guard.New(fs, cfg, discard())
		require.NoError(t, g.Allow(t.Context(), "203.0.113.5", "user@example.com"))
		require.Len(t, fs.counters, 5)
	})

	t.Run("ip vector trips first", func(t *testing.T) {
		fs := newFakeStore()
		g := guard.New(fs, cfg, discard())
		require.NoError(t, g.Allow(t.Context(), "203.0.113.5", "user@example.com"))
		require.NoError(t, g.Allow(t.Context(), "203.0.113.5", "user@example.com"))
		err := g.Allow(t.Context(), "203.0.113.5", "user@example.com")

		var throttled *guard.ThrottledError
		require.ErrorAs(t, err, &throttled)
		require.Equal(t, model.VectorIP, throttled.Vector)
		require.EqualValues(t, 3, throttled.Count)
		require.EqualValues(t, 2, throttled.Limit)
		require.Len(t, fs.incidents, 1)
		require.Contains(t, fs.incidents[0], "rate limit exceeded")
	})

	t.Run("zero limit disables the vector", func(t *testing.T) {
		fs := newFakeStore()
		g := guard.New(fs, model.Simple{WindowSeconds: 3600, EmailLimit: 1}, discard())
		for range 5 {
			require.NoError(t, g.Allow(t.Context(), "203.0.113.5", ""))
		}
	})

	t.Run("different subnets count apart", func(t *testing.T) {
		fs := newFakeStore()
		g := guard.New(fs, model.Simple{WindowSeconds: 3600, SubnetLimit: 1}, discard())
		require.NoError(t, g.Allow(t.Context(), "203.0.113.5", ""))
		require.NoError(t, g.Allow(t.Context(), "198.51.100.5", ""))
		require.Error(t, g.Allow(t.Context(), "203.0.113.99", ""))
	})
}

func TestGuardHoneypot(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	g := guard.New(fs, model.Simple{WindowSeconds: 3600}, discard())
	g.Honeypot(t.Context(), "203.0.113.66")

	// the incident belongs to the event handlers, a hit must not be
	// written here as well or one submission counts twice
	require.Empty(t, fs.incidents)
	require.Empty(t, fs.counters)
}

func TestSubnetOf(t *testing.T) {
	t.Parallel()
	cases := []struct {
		given string
		then  string
	}{
		{"203.0.113.77", "203.0.113.0/24"},
		{"2001:db8:1:2:3:4:5:6", "2001:db8:1:2::/64"},
		{"not-an-ip", ""},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.then, guard.SubnetOf(tc.given), tc.given)
	}
}

func TestDomainOf(t *testing.T) {
	t.Parallel()
	require.Equal(t, "example.com", guard.DomainOf("User@Example.COM"))
	require.Equal(t, "", guard.DomainOf("no-at-sign"))
	require.Equal(t, "", guard.DomainOf("trailing@"))
}

func TestReputationHandler(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	h := guard.ReputationHandler(fs)

	events := []check.Event{
		{Name: check.EventSimpleRequested, Email: "u@example.com", IP: "203.0.113.5"},
		{Name: check.EventSimpleRequested, Email: "u@example.com", IP: "203.0.113.5"},
		{Name: check.EventSimpleVerified, Email: "u@example.com", IP: "203.0.113.5"},
		{Name: check.EventVerificationFailed, Email: "u@example.com"},
		{Name: check.EventCheckCompleted, UserID: "user-1"}, // ignored
	}
	for _, ev := range events {
		require.NoError(t, h(t.Context(), ev))
	}

	email := fs.reputation["u@example.com"]
	require.EqualValues(t, 2, email.Requested)
	require.EqualValues(t, 1, email.Verified)
	require.EqualValues(t, 1, email.Failed)

	ip := fs.reputation["203.0.113.5"]
	require.EqualValues(t, 2, ip.Requested)
	require.EqualValues(t, 1, ip.Verified)
	require.EqualValues(t, 0, ip.Failed)
}

func TestIncidentHandler(t *testing.T) {
	t.Parallel()

	t.Run("honeypot and ip mismatch", func(t *testing.T) {
		fs := newFakeStore()
		h := guard.IncidentHandler(fs, discard(), 3)
		require.NoError(t, h(t.Context(), check.Event{Name: check.EventHoneypotTriggered, IP: "203.0.113.9"}))
		require.NoError(t, h(t.Context(), check.Event{Name: check.EventIPMismatch, IP: "203.0.113.9", Reason: "requester 198.51.100.1 asked about 203.0.113.9"}))
		require.Len(t, fs.incidents, 2)
	})

	t.Run("repeated verification failures", func(t *testing.T) {
		fs := newFakeStore()
		rep := guard.ReputationHandler(fs)
		inc := guard.IncidentHandler(fs, discard(), 3)

		ev := check.Event{Name: check.EventVerificationFailed, Email: "u@example.com"}
		for range 3 {
			require.NoError(t, rep(t.Context(), ev))
			require.NoError(t, inc(t.Context(), ev))
		}
		require.Len(t, fs.incidents, 1)
		require.Contains(t, fs.incidents[0], "verification failed 3 times")
	})

	t.Run("configured attempts set the threshold", func(t *testing.T) {
		fs := newFakeStore()
		rep := guard.ReputationHandler(fs)
		inc := guard.IncidentHandler(fs, discard(), 2)

		ev := check.Event{Name: check.EventVerificationFailed, Email: "u@example.com"}
		for range 4 {
			require.NoError(t, rep(t.Context(), ev))
			require.NoError(t, inc(t.Context(), ev))
		}
		// every 2nd failure opens one: at 2 and at 4
		require.Len(t, fs.incidents, 2)
		require.Contains(t, fs.incidents[0], "verification failed 2 times")
		require.Contains(t, fs.incidents[1], "verification failed 4 times")
	})

	t.Run("nonsense attempts fall back to the default", func(t *testing.T) {
		fs := newFakeStore()
		rep := guard.ReputationHandler(fs)
		inc := guard.IncidentHandler(fs, discard(), 0)

		ev := check.Event{Name: check.EventVerificationFailed, Email: "u@example.com"}
		for range 3 {
			require.NoError(t, rep(t.Context(), ev))
			require.NoError(t, inc(t.Context(), ev))
		}
		require.Len(t, fs.incidents, 1)
	})

	t.Run("unknown contact is not an incident", func(t *testing.T) {
		fs := newFakeStore()
		h := guard.IncidentHandler(fs, discard(), 3)
		require.NoError(t, h(t.Context(), check.Event{Name: check.EventVerificationFailed, Email: "ghost@example.com"}))
		require.Empty(t, fs.incidents)
	})
}

func TestFanoutIsolatesFailures(t *testing.T) {
	t.Parallel()
	var calls []string
	f := check.NewFanout(discard(),
		func(context.Context, check.Event) error {
			calls = append(calls, "first")
			return errors.New("broken listener")
		},
		func(context.Context, check.Event) error {
			calls = append(calls, "second")
			return nil
		},
	)
	f.Publish(t.Context(), check.Event{Name: check.EventCheckCompleted})
	require.Equal(t, []string{"first", "second"}, calls)
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()
	rl := guard.NewRateLimiter(rate.Limit(1), 2)

	require.True(t, rl.Allow("203.0.113.5"))
	require.True(t, rl.Allow("203.0.113.5"))
	require.False(t, rl.Allow("203.0.113.5"))

	// other clients keep their own bucket
	require.True(t, rl.Allow("198.51.100.7"))
}
