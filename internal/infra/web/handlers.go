package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/infra/ratelimit"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   s.Clock.Now(),
	})
}

type statusResponse struct {
	Now            time.Time                     `json:"now"`
	Accounts       []string                      `json:"accounts"`
	PendingDelayed []model.ScheduledTask         `json:"pending_delayed"`
	Locks          map[model.CheckpointKind]bool `json:"locks"`
	NextRuns       map[string]time.Time          `json:"next_runs,omitempty"`
	RateLimit      *ratelimit.Status             `json:"rate_limit,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{
		Now:            s.Clock.Now(),
		Accounts:       []string{},
		PendingDelayed: []model.ScheduledTask{},
		Locks:          make(map[model.CheckpointKind]bool),
	}
	if s.Accounts != nil {
		resp.Accounts = s.Accounts.Accounts()
	}
	if s.Delayed != nil {
		resp.PendingDelayed = s.Delayed.PendingDelayed()
	}
	if s.Trigger != nil {
		resp.NextRuns = s.Trigger.NextRuns()
	}
	if s.Limiter != nil {
		st := s.Limiter.Status()
		resp.RateLimit = &st
	}
	if s.Locker != nil {
		for _, k := range model.AllCheckpoints {
			held, err := s.Locker.Locked(ctx, k.LockName())
			if err != nil {
				s.log.Error().Err(err).Str("checkpoint", string(k)).Msg("lock state unavailable")
				continue
			}
			resp.Locks[k] = held
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type runResponse struct {
	Kind      model.CheckpointKind `json:"kind"`
	Summaries []*model.RunSummary  `json:"summaries"`
}

func (s *Server) handleRunCheckpoint(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseCheckpointKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.Trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "trigger not configured")
		return
	}

	if s.Manual != nil {
		ok, err := s.Manual.Allow(r.Context(), string(kind))
		if err != nil {
			s.log.Error().Err(err).Msg("manual trigger limiter unavailable")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, domain.ErrTriggerThrottled.Error())
			return
		}
	}

	// the run outlives a dropped client connection
	ctx := context.WithoutCancel(r.Context())
	summaries, err := s.Trigger.Run(ctx, kind)
	if errors.Is(err, domain.ErrLockHeld) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("checkpoint", string(kind)).Msg("manual run failed")
		writeError(w, http.StatusInternalServerError, "run failed")
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Kind: kind, Summaries: summaries})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7, 365)
	runs, err := s.History.ListRecent(r.Context(), days)
	if err != nil {
		s.log.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "runs": runs})
}
