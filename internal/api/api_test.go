package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/agritrace/kestrel/internal/bus"
	"github.com/agritrace/kestrel/internal/cache"
	"github.com/agritrace/kestrel/internal/domain"
	"github.com/agritrace/kestrel/internal/rules"
	"github.com/agritrace/kestrel/internal/scoring"
	"github.com/agritrace/kestrel/internal/synth"
)

var (
	scorerOnce sync.Once
	scorerInst *scoring.Service
	scorerDir  string
)

// sharedScorer trains one small model and reuses it across API tests.
func sharedScorer(t *testing.T) *scoring.Service {
	t.Helper()

	scorerOnce.Do(func() {
		engine, err := rules.NewEngine()
		if err != nil {
			t.Fatalf("failed to create rule engine: %v", err)
		}

		scorerInst = scoring.NewService(domain.ModelConfig{
			ArtifactPath:   filepath.Join(t.TempDir(), "model.gob"),
			Trees:          25,
			MaxDepth:       10,
			MinSamplesLeaf: 2,
			Seed:           42,
		}, engine)

		gen := synth.New(42)
		records := gen.Dataset(400, 0.2)
		if _, err := scorerInst.Train(context.Background(), records, synth.Labels(records)); err != nil {
			t.Fatalf("training failed: %v", err)
		}
	})
	return scorerInst
}

// createTestServer wires a server against the channel bus and LRU cache.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	lru := cache.NewLRUCache(100)

	return NewServer(cfg, nil, lru, eventBus, sharedScorer(t), "test-v1")
}

func TestPredictEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("CleanRecord", func(t *testing.T) {
		reqBody := domain.CheckpointRequest{
			Quantity:           200,
			TransportTimeHours: 10,
			CheckpointCount:    5,
			Price:              100,
			CurrentStatus:      "Delivered",
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.PredictResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.FraudPrediction != 0 {
			t.Errorf("expected prediction 0 for clean record, got %d", resp.FraudPrediction)
		}
		if resp.FraudProbability < 0 || resp.FraudProbability > 1 {
			t.Errorf("probability out of range: %f", resp.FraudProbability)
		}
		if resp.AlertLevel != domain.SeverityLow {
			t.Errorf("expected LOW level for clean record, got %s", resp.AlertLevel)
		}
		if resp.FraudTypes == nil {
			t.Error("fraud_types must be present (possibly empty), not null")
		}
	})

	t.Run("AnomalousRecord", func(t *testing.T) {
		reqBody := domain.CheckpointRequest{
			Quantity:           9000,
			TransportTimeHours: 500,
			CheckpointCount:    0,
			Price:              50,
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.PredictResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.FraudPrediction != 1 {
			t.Errorf("expected prediction 1 for anomalous record, got %d", resp.FraudPrediction)
		}
		if len(resp.FraudTypes) == 0 {
			t.Error("expected at least one fraud type for flagged record")
		}
		if resp.AlertLevel != domain.SeverityHigh && resp.AlertLevel != domain.SeverityCritical {
			t.Errorf("expected HIGH or CRITICAL level, got %s", resp.AlertLevel)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString("not json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeQuantity", func(t *testing.T) {
		body, _ := json.Marshal(domain.CheckpointRequest{Quantity: -5, Price: 100})
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("Batch", func(t *testing.T) {
		reqBody := ScoreRequest{
			Records: []domain.CheckpointRequest{
				{Quantity: 200, TransportTimeHours: 10, CheckpointCount: 5, Price: 100, CurrentStatus: "Delivered"},
				{Quantity: 9000, TransportTimeHours: 500, CheckpointCount: 0, Price: 50, BatchID: "BATCH-6666"},
			},
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Total != 2 {
			t.Errorf("expected 2 results, got %d", resp.Total)
		}
		if resp.Flagged != 1 {
			t.Errorf("expected 1 flagged record, got %d", resp.Flagged)
		}
		if resp.Results[1].Record.BatchID != "BATCH-6666" {
			t.Errorf("result order not preserved: %s", resp.Results[1].Record.BatchID)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		body, _ := json.Marshal(ScoreRequest{})
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestIngestEndpoint(t *testing.T) {
	server := createTestServer(t)

	body, _ := json.Marshal(domain.CheckpointRequest{
		Quantity: 150, TransportTimeHours: 8, CheckpointCount: 4, Price: 90,
	})
	req := httptest.NewRequest(http.MethodPost, "/checkpoints", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTrainEndpoint(t *testing.T) {
	// Training swaps the model, so this test gets its own scorer instead of
	// the shared one.
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	scorer := scoring.NewService(domain.ModelConfig{
		ArtifactPath:   filepath.Join(t.TempDir(), "model.gob"),
		Trees:          15,
		MaxDepth:       8,
		MinSamplesLeaf: 2,
		Seed:           42,
	}, engine)

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })
	server := NewServer(cfg, nil, cache.NewLRUCache(10), eventBus, scorer, "test-v1")

	t.Run("Synthetic", func(t *testing.T) {
		body, _ := json.Marshal(TrainRequest{Samples: 200, FraudRatio: 0.2})
		req := httptest.NewRequest(http.MethodPost, "/train", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp TrainResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RunID == "" {
			t.Error("expected a run id")
		}
		if resp.Samples != 200 || resp.FraudSamples != 40 {
			t.Errorf("unexpected sample counts: %d / %d", resp.Samples, resp.FraudSamples)
		}
		if scorer.Model() == nil {
			t.Error("model not swapped in after training")
		}
	})

	t.Run("PostedRecords", func(t *testing.T) {
		gen := synth.New(7)
		records := gen.Dataset(150, 0.25)
		posted := make([]domain.CheckpointRecord, len(records))
		for i, r := range records {
			posted[i] = *r
		}

		body, _ := json.Marshal(TrainRequest{Records: posted})
		req := httptest.NewRequest(http.MethodPost, "/train", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp TrainResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Samples != 150 {
			t.Errorf("expected 150 samples, got %d", resp.Samples)
		}
	})
}

func TestModelEndpoint(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/model", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ModelResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Trees != 25 {
		t.Errorf("expected 25 trees, got %d", resp.Trees)
	}
	if len(resp.Features) != len(domain.FeatureNames) {
		t.Errorf("expected %d features, got %d", len(domain.FeatureNames), len(resp.Features))
	}
	if resp.Threshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %f", resp.Threshold)
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Ready  bool              `json:"ready"`
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !resp.Ready {
			t.Errorf("expected ready=true, checks: %v", resp.Checks)
		}
		if resp.Checks["model"] != "ok" {
			t.Errorf("expected model check ok, got %s", resp.Checks["model"])
		}
	})

	t.Run("RequestIDHeader", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID response header")
		}
	})
}

func TestCORSPreflights(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("unexpected allow-origin: %s", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
