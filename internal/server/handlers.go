package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/servicepilot/servicepilot-ai/internal/audit"
	"github.com/servicepilot/servicepilot-ai/internal/db"
	"github.com/servicepilot/servicepilot-ai/internal/metrics"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/orchestrator"
	"github.com/servicepilot/servicepilot-ai/pkg/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// handleTurn handles POST /api/v1/turn, the single conversational entry
// point. Every well-formed turn gets a 200 with a TurnResponse; only
// malformed input or persistence failures surface as errors.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req types.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	resp, err := s.turns.HandleTurn(r.Context(), &req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyInput) {
			respondError(w, http.StatusBadRequest, "free_text is required")
			return
		}
		s.logger.Error("turn failed",
			zap.String("user_id", req.UserID),
			zap.String("machine_id", req.MachineID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "turn could not be processed")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListSessions handles GET /api/v1/sessions?user_id=&limit=&offset=.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.store.ListSessions(r.Context(), userID, limit, offset)
	if err != nil {
		s.logger.Error("listing sessions failed", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleGetSession handles GET /api/v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("loading session failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleGetSteps handles GET /api/v1/sessions/{id}/steps.
func (s *Server) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("loading session failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	steps, err := s.store.GetSteps(r.Context(), id)
	if err != nil {
		s.logger.Error("loading steps failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not load steps")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"steps":      steps,
		"count":      len(steps),
	})
}

// handleAbandonSession handles POST /api/v1/sessions/{id}/abandon.
// Abandoning a terminal session is a conflict, not a no-op: the caller's
// view of the session is stale and it should re-read.
func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("loading session failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	if troubleshoot.SessionStatus(sess.Status).Terminal() {
		respondError(w, http.StatusConflict, "session is already "+sess.Status)
		return
	}

	if err := s.store.UpdateSessionStatus(r.Context(), id, string(troubleshoot.StatusAbandoned), sess.Category); err != nil {
		s.logger.Error("abandoning session failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not abandon session")
		return
	}

	metrics.SessionsEnded.WithLabelValues(string(troubleshoot.StatusAbandoned)).Inc()
	_ = s.audit.Log(r.Context(), audit.NewEvent(audit.EventSessionAbandoned).
		WithUser(sess.UserID).
		WithSession(sess.ID, sess.MachineID).
		WithDescription("session abandoned by technician").
		WithResult(audit.ResultSuccess))

	respondJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"status":     string(troubleshoot.StatusAbandoned),
	})
}

// handleEffectiveness handles GET /api/v1/effectiveness?category=&model=&limit=.
func (s *Server) handleEffectiveness(w http.ResponseWriter, r *http.Request) {
	if s.ranker == nil {
		respondError(w, http.StatusServiceUnavailable, "effectiveness ranking is not enabled")
		return
	}
	rawCategory := r.URL.Query().Get("category")
	if rawCategory == "" {
		respondError(w, http.StatusBadRequest, "category is required")
		return
	}
	category := troubleshoot.ParseCategory(rawCategory)
	model := r.URL.Query().Get("model")
	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	ranked, err := s.ranker.RankSolutions(r.Context(), category, model, limit)
	if err != nil {
		s.logger.Error("ranking solutions failed",
			zap.String("category", string(category)),
			zap.String("model", model),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not rank solutions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"category":  string(category),
		"model":     model,
		"solutions": ranked,
		"count":     len(ranked),
	})
}

// handleLive handles GET /healthz/live. The process is up; nothing else
// is checked.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /healthz/ready. Ready means the session store
// answers a ping within two seconds.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "database_unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
