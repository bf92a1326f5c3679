// Package web is the HTTP API: check submission for operators, the
// anonymous simple-mode entry and report retrieval.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/unblockd/unblockd/internal/check"
	"github.com/unblockd/unblockd/internal/guard"
	"github.com/unblockd/unblockd/internal/log"
	"github.com/unblockd/unblockd/internal/model"
)

//go:generate mockgen -destination=./mock/contracts.go -package=mock github.com/unblockd/unblockd/internal/web OrchestratorContract,ReportFinder,GuardContract,ContactVerifier

// OrchestratorContract is what the handlers need from the check side.
type OrchestratorContract interface {
	Run(ctx context.Context, in check.RunInput) (check.RunResult, error)
}

type ReportFinder interface {
	FindReport(ctx context.Context, id string, now time.Time) (model.Report, error)
}

// GuardContract fronts the simple-mode throttles.
type GuardContract interface {
	Allow(ctx context.Context, ip, email string) error
	Honeypot(ctx context.Context, ip string)
}

// ContactVerifier re-exported so mocks and wiring share one name.
type ContactVerifier = guard.ContactVerifier

type Server struct {
	cfg          model.Server
	orchestrator OrchestratorContract
	reports      ReportFinder
	guard        GuardContract
	verifier     ContactVerifier
	events       *check.Fanout
	limiter      *guard.RateLimiter
	// simpleUser is the service account anonymous checks run under; it
	// needs explicit grants on every host eligible for simple mode, the
	// authorization path is the same as everyone else's.
	simpleUser string
	now        func() time.Time
}

func New(cfg model.Server, orchestrator OrchestratorContract, reports ReportFinder, g GuardContract, verifier ContactVerifier, events *check.Fanout, simpleUser string) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		reports:      reports,
		guard:        g,
		verifier:     verifier,
		events:       events,
		limiter:      guard.NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		simpleUser:   simpleUser,
		now:          time.Now,
	}
}

func (s *Server) Handler() *mux.Router {
	r := mux.NewRouter()
	r.Use(httpInfoContext)
	r.Use(s.rateLimit)

	r.HandleFunc("/v1/checks", s.postCheck).Methods(http.MethodPost)
	r.HandleFunc("/v1/simple/checks", s.postSimpleCheck).Methods(http.MethodPost)
	r.HandleFunc("/v1/reports/{id}", s.getReport).Methods(http.MethodGet)
	r.HandleFunc("/v1/health", s.checkHealth).Methods(http.MethodGet)
	return r
}

func httpInfoContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextAttrs(r.Context(), slog.Group("http-info",
			slog.String("method", r.Method),
			slog.String("url-path", r.URL.Path),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !s.limiter.Allow(client) {
			slog.WarnContext(r.Context(), "Request rate limited.", slog.String("client", client))
			toProblem(r.Context(), w, http.StatusTooManyRequests, "Too Many Requests",
				"Request rate limit exceeded, slow down.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
