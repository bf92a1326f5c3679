package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	pd "github.com/kodeart/go-problem/v2"

	"github.com/unblockd/unblockd/internal/check"
	"github.com/unblockd/unblockd/internal/guard"
	"github.com/unblockd/unblockd/internal/store"
)

type postCheckRequest struct {
	IP         string `json:"ip"`
	UserID     string `json:"user_id"`
	HostID     int64  `json:"host_id"`
	CopyUserID string `json:"copy_user_id,omitempty"`
	// legacy flag, the literal "test" triggers a dry run
	Develop string `json:"develop,omitempty"`
}

type postSimpleCheckRequest struct {
	IP     string `json:"ip"`
	Email  string `json:"email"`
	Token  string `json:"token"`
	HostID int64  `json:"host_id"`
	// Website is the honeypot field. Humans never see it, so any value
	// here marks a bot.
	Website string `json:"website,omitempty"`
}

type checkResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	ReportID string `json:"report_id,omitempty"`
}

func (s *Server) postCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req postCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.DebugContext(ctx, "Calling `json.Decode()` failed", slog.String("error", err.Error()))
		toProblem(ctx, w, http.StatusBadRequest, "Bad Request", "Request body contains invalid JSON.")
		return
	}

	res, err := s.orchestrator.Run(ctx, check.RunInput{
		IP:         req.IP,
		UserID:     req.UserID,
		HostID:     req.HostID,
		CopyUserID: req.CopyUserID,
		Develop:    req.Develop == "test",
	})
	if err != nil {
		s.runError(ctx, w, err)
		return
	}

	toJson(ctx, w, http.StatusAccepted, checkResponse{
		Success:  res.Success,
		Message:  res.Message,
		ReportID: res.ReportID,
	})
}

func (s *Server) postSimpleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.verifier == nil {
		toProblem(ctx, w, http.StatusNotFound, "Not Found", "Self-service unblocking is not enabled.")
		return
	}

	var req postSimpleCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.DebugContext(ctx, "Calling `json.Decode()` failed", slog.String("error", err.Error()))
		toProblem(ctx, w, http.StatusBadRequest, "Bad Request", "Request body contains invalid JSON.")
		return
	}

	if req.Website != "" {
		s.guard.Honeypot(ctx, clientAddr(r))
		s.events.Publish(ctx, check.Event{
			Name:  check.EventHoneypotTriggered,
			IP:    clientAddr(r),
			Email: req.Email,
		})
		// answer as if everything went fine, bots get no feedback
		toJson(ctx, w, http.StatusAccepted, checkResponse{Success: true, Message: "check enqueued"})
		return
	}

	if err := s.guard.Allow(ctx, req.IP, req.Email); err != nil {
		var throttled *guard.ThrottledError
		if errors.As(err, &throttled) {
			toProblem(ctx, w, http.StatusTooManyRequests, "Too Many Requests",
				"Too many unblock attempts, try again later.")
			return
		}
		slog.ErrorContext(ctx, "Guard evaluation failed", slog.String("error", err.Error()))
		toProblem(ctx, w, http.StatusInternalServerError, "Internal Server Error", "Internal server error.")
		return
	}

	s.events.Publish(ctx, check.Event{Name: check.EventSimpleRequested, IP: req.IP, Email: req.Email})

	ok, err := s.verifier.Verify(ctx, req.Email, req.Token)
	if err != nil {
		slog.ErrorContext(ctx, "Contact verification failed", slog.String("error", err.Error()))
		toProblem(ctx, w, http.StatusInternalServerError, "Internal Server Error", "Internal server error.")
		return
	}
	if !ok {
		s.events.Publish(ctx, check.Event{Name: check.EventVerificationFailed, IP: req.IP, Email: req.Email})
		toProblem(ctx, w, http.StatusForbidden, "Forbidden", "Contact verification failed.")
		return
	}
	s.events.Publish(ctx, check.Event{Name: check.EventSimpleVerified, IP: req.IP, Email: req.Email})

	if client := clientAddr(r); client != req.IP {
		// recorded for review, not a rejection: the requester often asks
		// from a different network than the blocked one
		s.events.Publish(ctx, check.Event{
			Name:   check.EventIPMismatch,
			IP:     req.IP,
			Email:  req.Email,
			Reason: "requested from " + client,
		})
	}

	res, err := s.orchestrator.Run(ctx, check.RunInput{
		IP:     req.IP,
		UserID: s.simpleUser,
		HostID: req.HostID,
		Email:  req.Email,
	})
	if err != nil {
		s.runError(ctx, w, err)
		return
	}

	toJson(ctx, w, http.StatusAccepted, checkResponse{
		Success:  res.Success,
		Message:  res.Message,
		ReportID: res.ReportID,
	})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	report, err := s.reports.FindReport(ctx, id, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		toProblem(ctx, w, http.StatusNotFound, "Not Found", "No such report.")
		return
	case errors.Is(err, store.ErrExpired):
		toProblem(ctx, w, http.StatusForbidden, "Forbidden", "Report has expired.")
		return
	case err != nil:
		slog.ErrorContext(ctx, "Calling `store.FindReport()` failed", slog.String("error", err.Error()))
		toProblem(ctx, w, http.StatusInternalServerError, "Internal Server Error", "Internal server error.")
		return
	}

	toJson(ctx, w, http.StatusOK, report)
}

type checkHealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) checkHealth(w http.ResponseWriter, r *http.Request) {
	toJson(r.Context(), w, http.StatusOK, checkHealthResponse{Status: "ok"})
}

func (s *Server) runError(ctx context.Context, w http.ResponseWriter, err error) {
	var invalid *check.InvalidIPError
	var denied *check.AccessDeniedError
	switch {
	case errors.As(err, &invalid):
		toProblem(ctx, w, http.StatusBadRequest, "Bad Request", invalid.Error())
	case errors.As(err, &denied):
		toProblem(ctx, w, http.StatusForbidden, "Forbidden", "No access to the requested host.")
	case errors.Is(err, store.ErrNotFound):
		toProblem(ctx, w, http.StatusNotFound, "Not Found", "No such host.")
	default:
		slog.ErrorContext(ctx, "Calling `orchestrator.Run()` failed", slog.String("error", err.Error()))
		toProblem(ctx, w, http.StatusServiceUnavailable, "Service Unavailable", "Temporary system error, try again later.")
	}
}

func toJson(ctx context.Context, w http.ResponseWriter, statusCode int, resp any) {
	b, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal structure to json.", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error."))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(b)
}

func toProblem(ctx context.Context, w http.ResponseWriter, statusCode int, title, detail string) {
	b, err := json.Marshal(pd.Problem{
		Status: statusCode,
		Title:  title,
		Detail: detail,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal structure to json.", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error."))
		return
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(b)
}
