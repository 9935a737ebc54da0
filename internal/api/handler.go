package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agritrace/kestrel/internal/alert"
	"github.com/agritrace/kestrel/internal/domain"
	"github.com/agritrace/kestrel/internal/scoring"
	"github.com/agritrace/kestrel/internal/synth"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	scorer  *scoring.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, scorer *scoring.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		scorer:  scorer,
		version: version,
	}
}

// Predict handles POST /predict: synchronous single-record inference.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.CheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Quantity < 0 || req.Price < 0 || req.TransportTimeHours < 0 || req.CheckpointCount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "quantity, price, transportTimeHours and checkpointCount must be non-negative",
		})
		return
	}

	rec := req.ToRecord(time.Now().UTC())

	resp, err := h.scorer.PredictOne(ctx, rec)
	if err != nil {
		slog.Error("prediction failed", "batch_id", rec.BatchID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	Records []domain.CheckpointRequest `json:"records"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	Total   int                   `json:"total"`
	Flagged int                   `json:"flagged"`
	Results []domain.ScoredRecord `json:"results"`
}

// Score handles POST /score: batch scoring. Alerts for flagged rows are
// persisted and published on the alert topic.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "records must not be empty",
		})
		return
	}

	now := time.Now().UTC()
	records := make([]*domain.CheckpointRecord, len(req.Records))
	for i := range req.Records {
		records[i] = req.Records[i].ToRecord(now)
	}

	results, err := h.scorer.Score(ctx, records)
	if err != nil {
		slog.Error("batch scoring failed", "records", len(records), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model not available",
		})
		return
	}

	flagged := 0
	for i := range results {
		if results[i].Prediction != 1 {
			continue
		}
		flagged++
		h.emitAlert(ctx, records[i], &results[i])
	}

	if flagged > 0 && h.cache != nil {
		// New alerts invalidate the cached export document.
		_ = h.cache.Delete(ctx, "export:latest")
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		Total:   len(results),
		Flagged: flagged,
		Results: results,
	})
}

func (h *Handler) emitAlert(ctx context.Context, rec *domain.CheckpointRecord, result *domain.ScoredRecord) {
	a := alert.Assemble(rec, result.Probability, result.FraudTypes, result.ScoredAt)

	if h.repo != nil {
		if err := h.repo.SaveAlert(ctx, a); err != nil {
			slog.Error("failed to save alert", "alert_id", a.ID, "error", err)
		}
	}
	if h.bus != nil {
		payload, _ := json.Marshal(a)
		if err := h.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert", "alert_id", a.ID, "error", err)
		}
	}
}

// Ingest handles POST /checkpoints: asynchronous scoring via the event bus.
// The worker picks the record up and publishes the result.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.CheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	payload, _ := json.Marshal(req)
	if err := h.bus.Publish(ctx, domain.TopicCheckpointIngested, payload); err != nil {
		slog.Error("failed to publish checkpoint", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue checkpoint",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

// TrainRequest is the request body for POST /train. When Records is set the
// model trains on those labeled records; otherwise a synthetic dataset of
// Samples records is generated.
type TrainRequest struct {
	Records    []domain.CheckpointRecord `json:"records,omitempty"`
	Samples    int                       `json:"samples"`
	FraudRatio float64                   `json:"fraudRatio"`
	Seed       int64                     `json:"seed"`
}

// TrainResponse is the response for POST /train.
type TrainResponse struct {
	RunID        string    `json:"runId"`
	Samples      int       `json:"samples"`
	FraudSamples int       `json:"fraudSamples"`
	Accuracy     float64   `json:"accuracy"`
	ROCAUC       float64   `json:"rocAuc"`
	F1           float64   `json:"f1"`
	CVAUCMean    float64   `json:"cvAucMean"`
	CVAUCStddev  float64   `json:"cvAucStddev"`
	TrainedAt    time.Time `json:"trainedAt"`
}

// Train handles POST /train: retrains the classifier on posted labeled
// records (or a fresh synthetic dataset) and swaps the new model in
// atomically.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TrainRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}
	var records []*domain.CheckpointRecord
	if len(req.Records) > 0 {
		records = make([]*domain.CheckpointRecord, len(req.Records))
		for i := range req.Records {
			records[i] = &req.Records[i]
		}
	} else {
		if req.Samples <= 0 {
			req.Samples = 1200
		}
		if req.FraudRatio <= 0 || req.FraudRatio >= 1 {
			req.FraudRatio = 0.15
		}
		if req.Seed == 0 {
			req.Seed = 42
		}
		records = synth.New(req.Seed).Dataset(req.Samples, req.FraudRatio)
	}

	eval, err := h.scorer.Train(ctx, records, synth.Labels(records))
	if err != nil && eval == nil {
		slog.Error("training failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "training failed",
		})
		return
	}
	if err != nil {
		// Model trained and swapped in but the artifact was not persisted.
		slog.Warn("model trained but artifact save failed", "error", err)
	}

	now := time.Now().UTC()
	run := &domain.TrainingRun{
		ID:           uuid.New().String(),
		Samples:      eval.Samples,
		FraudSamples: eval.FraudSamples,
		ROCAUC:       eval.ROCAUC,
		F1:           eval.F1,
		CVAUCMean:    eval.CVAUCMean,
		CVAUCStddev:  eval.CVAUCStddev,
		TrainedAt:    now,
	}
	if m := h.scorer.Model(); m != nil {
		run.TrainedAt = m.TrainedAt
	}
	if h.repo != nil {
		if err := h.repo.SaveTrainingRun(ctx, run); err != nil {
			slog.Error("failed to save training run", "run_id", run.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, TrainResponse{
		RunID:        run.ID,
		Samples:      eval.Samples,
		FraudSamples: eval.FraudSamples,
		Accuracy:     eval.Accuracy,
		ROCAUC:       eval.ROCAUC,
		F1:           eval.F1,
		CVAUCMean:    eval.CVAUCMean,
		CVAUCStddev:  eval.CVAUCStddev,
		TrainedAt:    run.TrainedAt,
	})
}

// ModelResponse is the response for GET /model.
type ModelResponse struct {
	Version      string    `json:"version"`
	Trees        int       `json:"trees"`
	Features     []string  `json:"features"`
	Threshold    float64   `json:"threshold"`
	Seed         int64     `json:"seed"`
	TrainedAt    time.Time `json:"trainedAt"`
	Samples      int       `json:"samples,omitempty"`
	FraudSamples int       `json:"fraudSamples,omitempty"`
	ROCAUC       float64   `json:"rocAuc,omitempty"`
	F1           float64   `json:"f1,omitempty"`
}

// GetModel handles GET /model: metadata of the currently served model.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	m := h.scorer.Model()
	if m == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no model loaded",
		})
		return
	}

	resp := ModelResponse{
		Version:   m.Version,
		Trees:     len(m.Trees),
		Features:  m.FeatureNames,
		Threshold: m.Threshold,
		Seed:      m.Seed,
		TrainedAt: m.TrainedAt,
	}
	if m.Evaluation != nil {
		resp.Samples = m.Evaluation.Samples
		resp.FraudSamples = m.Evaluation.FraudSamples
		resp.ROCAUC = m.Evaluation.ROCAUC
		resp.F1 = m.Evaluation.F1
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListAlerts handles GET /alerts. Supports ?level=, ?limit= and ?since=
// (RFC 3339) filters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "alert store not available",
		})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var alerts []*domain.FraudAlert
	var err error

	if level := r.URL.Query().Get("level"); level != "" {
		alerts, err = h.repo.ListAlertsByLevel(ctx, domain.Severity(level), limit)
	} else {
		since := time.Time{}
		if v := r.URL.Query().Get("since"); v != "" {
			if t, perr := time.Parse(time.RFC3339, v); perr == nil {
				since = t
			}
		}
		alerts, err = h.repo.ListAlerts(ctx, since, limit)
	}

	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	if alerts == nil {
		alerts = []*domain.FraudAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(alerts),
		"alerts": alerts,
	})
}

// ExportAlerts handles GET /alerts/export: the batch export document consumed
// by the ledger collaborator. Served from cache when fresh.
func (h *Handler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		if doc, err := h.cache.GetExport(ctx, "latest"); err == nil && doc != nil {
			writeJSON(w, http.StatusOK, doc)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "alert store not available",
		})
		return
	}

	alerts, err := h.repo.ListAlerts(ctx, time.Time{}, 1000)
	if err != nil {
		slog.Error("failed to export alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to export alerts",
		})
		return
	}

	doc := alert.Export(alerts)

	if h.cache != nil {
		_ = h.cache.SetExport(ctx, "latest", doc, time.Minute)
	}

	writeJSON(w, http.StatusOK, doc)
}

// Health handles GET /health: process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready handles GET /ready: readiness of the model and all collaborators.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true

	if h.scorer.Model() != nil {
		checks["model"] = "ok"
	} else {
		checks["model"] = "not loaded"
		healthy = false
	}

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			checks["repository"] = err.Error()
			healthy = false
		} else {
			checks["repository"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		} else {
			checks["cache"] = "ok"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			checks["bus"] = err.Error()
			healthy = false
		} else {
			checks["bus"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  healthy,
		"checks": checks,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
