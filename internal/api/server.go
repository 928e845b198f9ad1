// Package api exposes the triage service over an HTTP JSON interface.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ndpham/inboxtriage/internal/model"
	"github.com/ndpham/inboxtriage/internal/triage"
)

// Server routes HTTP requests to the triage service.
type Server struct {
	service  *triage.Service
	cooldown *Cooldown
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer creates the API server with its route table.
func NewServer(service *triage.Service, cooldown *Cooldown, logger *slog.Logger) *Server {
	s := &Server{
		service:  service,
		cooldown: cooldown,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/emails", s.handleFetchEmails)
	mux.HandleFunc("GET /api/emails/{id}", s.handleGetEmail)
	mux.HandleFunc("POST /api/emails/{id}/delete", s.handleDeleteEmail)
	mux.HandleFunc("POST /api/reply/generate", s.handleGenerateReply)
	mux.HandleFunc("POST /api/reply/send", s.handleSendReply)
	mux.HandleFunc("GET /api/actions/{id}", s.handleActions)
	mux.HandleFunc("GET /auto-reply/status", s.handleAutoReplyStatus)
	mux.HandleFunc("POST /auto-reply/toggle", s.handleAutoReplyToggle)
	s.mux = mux

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "connected"
	if err := s.service.CheckStorage(r.Context()); err != nil {
		database = "error"
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"database":           database,
		"provider_connected": s.service.ProviderName(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFetchEmails(w http.ResponseWriter, r *http.Request) {
	ok, retryAfter := s.cooldown.Allow()
	if !ok {
		s.writeError(w, &triage.RateLimitedError{RetryAfter: retryAfter})
		return
	}

	emails, err := s.service.FetchEmails(r.Context(), 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(emails),
		"emails":  emails,
	})
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	email, err := s.service.GetEmail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"email":   email,
	})
}

func (s *Server) handleDeleteEmail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.DeleteEmail(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "email " + id + " deleted",
	})
}

func (s *Server) handleGenerateReply(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EmailID string `json:"email_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, &triage.ValidationError{Message: "invalid JSON body"})
		return
	}
	if payload.EmailID == "" {
		s.writeError(w, &triage.ValidationError{Message: "email_id is required"})
		return
	}

	draft, err := s.service.GenerateReply(r.Context(), payload.EmailID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"reply":        draft.Reply,
		"analysis":     draft.Analysis,
		"sender":       draft.Sender,
		"subject":      draft.Subject,
		"thread_count": draft.ThreadCount,
	})
}

func (s *Server) handleSendReply(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EmailID string `json:"email_id"`
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, &triage.ValidationError{Message: "invalid JSON body"})
		return
	}

	err := s.service.SendReply(
		r.Context(), payload.EmailID, payload.To, payload.Subject, payload.Body,
	)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.service.Actions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if actions == nil {
		actions = []model.Action{}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"actions": actions,
	})
}

func (s *Server) handleAutoReplyStatus(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.service.AutoReplyEnabled(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"auto_reply_enabled": enabled,
	})
}

func (s *Server) handleAutoReplyToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.service.ToggleAutoReply(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	message := "auto-reply disabled"
	if enabled {
		message = "auto-reply enabled"
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"auto_reply_enabled": enabled,
		"message":            message,
	})
}

// writeError maps the service error taxonomy to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr  *triage.ValidationError
		notFoundErr    *triage.NotFoundError
		rateLimitedErr *triage.RateLimitedError
	)

	switch {
	case errors.As(err, &validationErr):
		s.respondJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   validationErr.Message,
		})
	case errors.As(err, &notFoundErr):
		s.respondJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   notFoundErr.Error(),
		})
	case errors.As(err, &rateLimitedErr):
		s.respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"success":     false,
			"error":       "fetch cooldown active",
			"retry_after": rateLimitedErr.RetryAfter,
		})
	default:
		s.logger.Error("request failed", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "internal server error",
		})
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
