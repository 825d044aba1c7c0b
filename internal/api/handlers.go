package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FairForge/gridwatch/internal/feedback"
	"github.com/FairForge/gridwatch/internal/retrain"
	"github.com/FairForge/gridwatch/internal/tasks"
	"github.com/FairForge/gridwatch/internal/training"
)

func (s *Server) handleCurrentPrediction(w http.ResponseWriter, r *http.Request) {
	pred := s.predictions.CurrentPrediction()
	if pred == nil {
		// First request before the scheduler has produced anything.
		fresh := s.predictions.Generate(r.Context())
		pred = &fresh
	}
	s.respondJSON(w, http.StatusOK, pred)
}

func (s *Server) handlePredictionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	s.respondJSON(w, http.StatusOK, s.predictions.History(limit))
}

func (s *Server) handlePredictionByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pred, ok := s.predictions.Prediction(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "prediction not found")
		return
	}
	s.respondJSON(w, http.StatusOK, pred)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "6h"
	}
	s.respondJSON(w, http.StatusOK, s.predictions.Trends(timeframe))
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.predictions.Status())
}

func (s *Server) handleForceUpdate(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.predictions.ForceUpdate(r.Context()))
}

type submitFeedbackRequest struct {
	PredictionID     string                 `json:"prediction_id"`
	WasAccurate      bool                   `json:"was_accurate"`
	AccuracyRating   int                    `json:"accuracy_rating"`
	ConfidenceRating int                    `json:"confidence_rating"`
	ActualOutcome    bool                   `json:"actual_outcome"`
	Detail           *training.OutageDetail `json:"outage_detail,omitempty"`
	Context          *feedback.Context      `json:"context,omitempty"`
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req submitFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PredictionID == "" {
		s.respondError(w, http.StatusBadRequest, "prediction_id is required")
		return
	}

	record, err := s.ledger.Submit(r.Context(), req.PredictionID, req.WasAccurate,
		req.AccuracyRating, req.ConfidenceRating, req.ActualOutcome, req.Detail, req.Context)
	if err != nil {
		if errors.Is(err, feedback.ErrPredictionNotFound) {
			s.respondError(w, http.StatusNotFound, "prediction not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, record)
}

func (s *Server) handleFeedbackAnalytics(w http.ResponseWriter, r *http.Request) {
	timeRange := 7 * 24 * time.Hour
	if raw := r.URL.Query().Get("range"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeRange = d
		}
	}
	s.respondJSON(w, http.StatusOK, s.ledger.Analytics(timeRange))
}

func (s *Server) handlePendingFeedback(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.ledger.PendingRequests(r.Context()))
}

func (s *Server) handleTrainingStats(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.curator.Stats())
}

func (s *Server) handleTriggerRetrain(w http.ResponseWriter, r *http.Request) {
	report, err := s.trainer.TriggerManual(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, retrain.ErrAlreadyInProgress):
			s.respondError(w, http.StatusConflict, "training already in progress")
		case errors.Is(err, retrain.ErrDisabled):
			s.respondError(w, http.StatusUnprocessableEntity, "retraining is disabled")
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.trainer.GetSchedule())
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req retrain.Schedule
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.respondJSON(w, http.StatusOK, s.trainer.UpdateSchedule(r.Context(), req))
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.models.List())
}

func (s *Server) handleActiveModel(w http.ResponseWriter, _ *http.Request) {
	active := s.models.GetActive()
	if active == nil {
		s.respondError(w, http.StatusNotFound, "no active model version")
		return
	}
	s.respondJSON(w, http.StatusOK, active)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	restored, err := s.models.Rollback(r.Context())
	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, restored)
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.orchestrator.List())
}

func (s *Server) handleEnableTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orchestrator.Enable(id); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"task": id, "status": "enabled"})
}

func (s *Server) handleDisableTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orchestrator.Disable(id); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"task": id, "status": "disabled"})
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.orchestrator.RunNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, tasks.ErrUnknownTask) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	s.respondJSON(w, http.StatusOK, s.orchestrator.History(id, limit))
}
