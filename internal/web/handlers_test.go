package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/unblockd/unblockd/internal/check"
	"github.com/unblockd/unblockd/internal/guard"
	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/store"
	"github.com/unblockd/unblockd/internal/web/mock"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []check.Event
}

func (e *eventRecorder) handler(_ context.Context, ev check.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *eventRecorder) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Name)
	}
	return out
}

type testServer struct {
	server       *Server
	orchestrator *mock.MockOrchestratorContract
	reports      *mock.MockReportFinder
	guard        *mock.MockGuardContract
	verifier     *mock.MockContactVerifier
	events       *eventRecorder
}

func setupTestServer(t *testing.T, ctrl *gomock.Controller) *testServer {
	t.Helper()
	ts := &testServer{
		orchestrator: mock.NewMockOrchestratorContract(ctrl),
		reports:      mock.NewMockReportFinder(ctrl),
		guard:        mock.NewMockGuardContract(ctrl),
		verifier:     mock.NewMockContactVerifier(ctrl),
		events:       &eventRecorder{},
	}
	fanout := check.NewFanout(slog.New(slog.DiscardHandler), ts.events.handler)
	cfg := model.Server{Addr: ":0", RateLimit: 1000, RateBurst: 1000}
	ts.server = New(cfg, ts.orchestrator, ts.reports, ts.guard, ts.verifier, fanout, "simple")
	return ts
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Result()
}

func TestServer_checkHealth(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ts := setupTestServer(t, ctrl)

	resp := doJSON(t, ts.server.Handler(), http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var result checkHealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, "ok", result.Status)
}

func TestServer_postCheck(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.orchestrator.EXPECT().
			Run(gomock.Any(), check.RunInput{IP: "192.0.2.5", UserID: "user-1", HostID: 1}).
			Return(check.RunResult{Success: true, Message: "check enqueued", ReportID: "report-1"}, nil)

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/checks",
			postCheckRequest{IP: "192.0.2.5", UserID: "user-1", HostID: 1})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var result checkResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.True(t, result.Success)
		require.Equal(t, "report-1", result.ReportID)
	})

	t.Run("develop flag maps the legacy string", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.orchestrator.EXPECT().
			Run(gomock.Any(), check.RunInput{IP: "192.0.2.5", UserID: "user-1", HostID: 1, Develop: true}).
			Return(check.RunResult{Success: true, Message: "develop mode, no check performed"}, nil)

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/checks",
			postCheckRequest{IP: "192.0.2.5", UserID: "user-1", HostID: 1, Develop: "test"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("malformed ip", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.orchestrator.EXPECT().
			Run(gomock.Any(), gomock.Any()).
			Return(check.RunResult{}, &check.InvalidIPError{Value: "nope"})

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/checks",
			postCheckRequest{IP: "nope", UserID: "user-1", HostID: 1})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	})

	t.Run("access denied", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.orchestrator.EXPECT().
			Run(gomock.Any(), gomock.Any()).
			Return(check.RunResult{}, &check.AccessDeniedError{UserID: "user-1", HostID: 1})

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/checks",
			postCheckRequest{IP: "192.0.2.5", UserID: "user-1", HostID: 1})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("invalid json", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		req := httptest.NewRequest(http.MethodPost, "/v1/checks", bytes.NewReader([]byte("abrakadabra")))
		w := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})
}

func TestServer_postSimpleCheck(t *testing.T) {
	// httptest requests come from 192.0.2.1
	const clientIP = "192.0.2.1"

	t.Run("verified request runs under the service account", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.guard.EXPECT().Allow(gomock.Any(), clientIP, "u@example.com").Return(nil)
		ts.verifier.EXPECT().Verify(gomock.Any(), "u@example.com", "123456").Return(true, nil)
		ts.orchestrator.EXPECT().
			Run(gomock.Any(), check.RunInput{IP: clientIP, UserID: "simple", HostID: 1, Email: "u@example.com"}).
			Return(check.RunResult{Success: true, Message: "check enqueued", ReportID: "report-1"}, nil)

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/simple/checks",
			postSimpleCheckRequest{IP: clientIP, Email: "u@example.com", Token: "123456", HostID: 1})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		require.Equal(t, []string{check.EventSimpleRequested, check.EventSimpleVerified}, ts.events.names())
	})

	t.Run("honeypot pretends success and stops", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.guard.EXPECT().Honeypot(gomock.Any(), clientIP)

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/simple/checks",
			postSimpleCheckRequest{IP: "192.0.2.9", Email: "bot@example.com", Token: "x", HostID: 1, Website: "http://spam"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		require.Equal(t, []string{check.EventHoneypotTriggered}, ts.events.names())
	})

	t.Run("throttled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.guard.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&guard.ThrottledError{Vector: model.VectorIP, Identifier: clientIP, Count: 6, Limit: 5})

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/simple/checks",
			postSimpleCheckRequest{IP: clientIP, Email: "u@example.com", Token: "123456", HostID: 1})
		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		require.Empty(t, ts.events.names())
	})

	t.Run("failed verification never reaches the orchestrator", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.guard.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		ts.verifier.EXPECT().Verify(gomock.Any(), "u@example.com", "bad").Return(false, nil)

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/simple/checks",
			postSimpleCheckRequest{IP: clientIP, Email: "u@example.com", Token: "bad", HostID: 1})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, []string{check.EventSimpleRequested, check.EventVerificationFailed}, ts.events.names())
	})

	t.Run("ip mismatch is recorded, not rejected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.guard.EXPECT().Allow(gomock.Any(), "198.51.100.7", "u@example.com").Return(nil)
		ts.verifier.EXPECT().Verify(gomock.Any(), "u@example.com", "123456").Return(true, nil)
		ts.orchestrator.EXPECT().Run(gomock.Any(), gomock.Any()).
			Return(check.RunResult{Success: true, ReportID: "report-1"}, nil)

		resp := doJSON(t, ts.server.Handler(), http.MethodPost, "/v1/simple/checks",
			postSimpleCheckRequest{IP: "198.51.100.7", Email: "u@example.com", Token: "123456", HostID: 1})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		require.Equal(t, []string{
			check.EventSimpleRequested,
			check.EventSimpleVerified,
			check.EventIPMismatch,
		}, ts.events.names())
	})
}

func TestServer_getReport(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.reports.EXPECT().FindReport(gomock.Any(), "report-1", gomock.Any()).
			Return(model.Report{ID: "report-1", IP: "192.0.2.5", Blocked: true, Unblocked: true, Success: true}, nil)

		resp := doJSON(t, ts.server.Handler(), http.MethodGet, "/v1/reports/report-1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var report model.Report
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		require.Equal(t, "report-1", report.ID)
		require.True(t, report.Unblocked)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.reports.EXPECT().FindReport(gomock.Any(), "nope", gomock.Any()).
			Return(model.Report{}, store.ErrNotFound)

		resp := doJSON(t, ts.server.Handler(), http.MethodGet, "/v1/reports/nope", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	})

	t.Run("expired report is 403", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.reports.EXPECT().FindReport(gomock.Any(), "old", gomock.Any()).
			Return(model.Report{}, store.ErrExpired)

		resp := doJSON(t, ts.server.Handler(), http.MethodGet, "/v1/reports/old", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	})

	t.Run("store failure is 500", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		ts := setupTestServer(t, ctrl)

		ts.reports.EXPECT().FindReport(gomock.Any(), "boom", gomock.Any()).
			Return(model.Report{}, errors.New("db locked"))

		resp := doJSON(t, ts.server.Handler(), http.MethodGet, "/v1/reports/boom", nil)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestServer_rateLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ts := setupTestServer(t, ctrl)
	ts.server.limiter = guard.NewRateLimiter(1, 2)

	handler := ts.server.Handler()
	for range 2 {
		resp := doJSON(t, handler, http.MethodGet, "/v1/health", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := doJSON(t, handler, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

// incidentStore satisfies both guard store contracts so the wired
// guard + fanout path can run against real handlers.
type incidentStore struct {
	mu        sync.Mutex
	incidents []string
}

func (f *incidentStore) IncrementCounter(_ context.Context, _ model.Vector, _ string, _ time.Time) (int64, error) {
	return 1, nil
}

func (f *incidentStore) CreateIncident(_ context.Context, vector model.Vector, identifier, reason string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = append(f.incidents, string(vector)+"/"+identifier+": "+reason)
	return "incident-1", nil
}

func (f *incidentStore) BumpReputation(_ context.Context, _ string, _ store.ReputationField) error {
	return nil
}

func (f *incidentStore) FindReputation(_ context.Context, _ string) (model.Reputation, error) {
	return model.Reputation{}, store.ErrNotFound
}

func TestServer_honeypotRecordsOneIncident(t *testing.T) {
	fs := &incidentStore{}
	logger := slog.New(slog.DiscardHandler)

	// production wiring: real guard, incidents written only by the
	// event handlers behind the fanout
	fanout := check.NewFanout(logger,
		guard.ReputationHandler(fs),
		guard.IncidentHandler(fs, logger, 3),
	)
	g := guard.New(fs, model.Simple{WindowSeconds: 3600}, logger)
	verifier, err := guard.NewHMACVerifier("topsecret")
	require.NoError(t, err)
	cfg := model.Server{Addr: ":0", RateLimit: 1000, RateBurst: 1000}
	srv := New(cfg, nil, nil, g, verifier, fanout, "simple")

	resp := doJSON(t, srv.Handler(), http.MethodPost, "/v1/simple/checks",
		postSimpleCheckRequest{IP: "192.0.2.5", Email: "bot@example.com", Token: "x", Website: "http://spam"})

	// bots get no feedback
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.incidents, 1)
	require.Contains(t, fs.incidents[0], "honeypot")
}
