package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agritrace/kestrel/internal/bus"
	"github.com/agritrace/kestrel/internal/domain"
	"github.com/agritrace/kestrel/internal/rules"
	"github.com/agritrace/kestrel/internal/scoring"
	"github.com/agritrace/kestrel/internal/synth"
)

func newTestScorer(t *testing.T) *scoring.Service {
	t.Helper()

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	scorer := scoring.NewService(domain.ModelConfig{
		ArtifactPath:   filepath.Join(t.TempDir(), "model.gob"),
		Trees:          25,
		MaxDepth:       10,
		MinSamplesLeaf: 2,
		Seed:           42,
	}, engine)

	gen := synth.New(42)
	records := gen.Dataset(400, 0.2)
	if _, err := scorer.Train(context.Background(), records, synth.Labels(records)); err != nil {
		t.Fatalf("training failed: %v", err)
	}

	return scorer
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	scorer := newTestScorer(t)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, scorer)

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicCheckpointIngested {
			t.Errorf("expected topic %s, got %s", domain.TopicCheckpointIngested, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessCheckpoint", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, scorer)
		w.Start()
		defer w.Stop()

		var scoredReceived atomic.Bool
		var scoredPayload []byte

		eventBus.Subscribe(context.Background(), domain.TopicScored, func(ctx context.Context, msg *domain.Message) error {
			scoredPayload = msg.Payload
			scoredReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		req := domain.CheckpointRequest{
			BatchID:            "BATCH-2001",
			Quantity:           200,
			TransportTimeHours: 10,
			CheckpointCount:    5,
			Price:              100,
			CurrentStatus:      "Delivered",
		}

		payload, _ := json.Marshal(req)
		if err := eventBus.Publish(context.Background(), domain.TopicCheckpointIngested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(200 * time.Millisecond)

		if !scoredReceived.Load() {
			t.Fatal("expected scored record to be published")
		}

		var result domain.ScoredRecord
		if err := json.Unmarshal(scoredPayload, &result); err != nil {
			t.Fatalf("failed to parse scored record: %v", err)
		}
		if result.Record.BatchID != "BATCH-2001" {
			t.Errorf("expected batch BATCH-2001, got %s", result.Record.BatchID)
		}
	})

	t.Run("AlertPublishedForFraud", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, scorer)
		w.Start()
		defer w.Stop()

		var alertReceived atomic.Bool
		var alertPayload []byte

		eventBus.Subscribe(context.Background(), domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertPayload = msg.Payload
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Missing shipment pattern: huge transport time, zero checkpoints,
		// bulk quantity at a fraction of normal price.
		req := domain.CheckpointRequest{
			BatchID:            "BATCH-6666",
			Quantity:           9000,
			TransportTimeHours: 500,
			CheckpointCount:    0,
			Price:              50,
		}

		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), domain.TopicCheckpointIngested, payload)

		time.Sleep(300 * time.Millisecond)

		if !alertReceived.Load() {
			t.Fatal("expected alert to be published for anomalous checkpoint")
		}

		var a domain.FraudAlert
		if err := json.Unmarshal(alertPayload, &a); err != nil {
			t.Fatalf("failed to parse alert: %v", err)
		}
		if a.BatchID != "BATCH-6666" {
			t.Errorf("expected batch BATCH-6666, got %s", a.BatchID)
		}
		if a.Prediction != 1 {
			t.Errorf("expected prediction 1, got %d", a.Prediction)
		}
		if len(a.FraudTypes) == 0 {
			t.Error("expected at least one fraud type on alert")
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		w := NewWorker(eventBus, nil, nil, scorer)
		w.Start()
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		// Must not panic the worker; subsequent messages still process.
		eventBus.Publish(context.Background(), domain.TopicCheckpointIngested, []byte("not json"))
		time.Sleep(50 * time.Millisecond)

		var scoredReceived atomic.Bool
		eventBus.Subscribe(context.Background(), domain.TopicScored, func(ctx context.Context, msg *domain.Message) error {
			scoredReceived.Store(true)
			return nil
		})
		time.Sleep(50 * time.Millisecond)

		req := domain.CheckpointRequest{Quantity: 100, TransportTimeHours: 5, CheckpointCount: 4, Price: 80}
		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), domain.TopicCheckpointIngested, payload)

		time.Sleep(200 * time.Millisecond)
		if !scoredReceived.Load() {
			t.Error("worker stopped processing after malformed payload")
		}
	})
}
