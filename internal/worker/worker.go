// Package worker provides async checkpoint scoring driven by the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/agritrace/kestrel/internal/alert"
	"github.com/agritrace/kestrel/internal/domain"
	"github.com/agritrace/kestrel/internal/scoring"
)

// Worker consumes ingested checkpoint events, runs them through the scoring
// pipeline and publishes the results. Alerts for flagged rows are persisted
// and re-published on the alert topic for the ledger simulator.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	scorer *scoring.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. Repository and cache are optional;
// scoring still runs without them.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, scorer *scoring.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the checkpoint topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCheckpointIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicCheckpointIngested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processCheckpoint(ctx, msg)
}

// processCheckpoint scores one ingested checkpoint event.
func (w *Worker) processCheckpoint(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.CheckpointRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse checkpoint message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	rec := req.ToRecord(time.Now().UTC())

	results, err := w.scorer.Score(ctx, []*domain.CheckpointRecord{rec})
	if err != nil {
		slog.Error("scoring failed",
			"batch_id", rec.BatchID,
			"error", err,
		)
		return err
	}
	result := results[0]

	// Publish the scored record regardless of outcome.
	scoredPayload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, domain.TopicScored, scoredPayload); err != nil {
		slog.Error("failed to publish scored record",
			"batch_id", rec.BatchID,
			"error", err,
		)
	}

	if result.Prediction == 1 {
		w.emitAlert(ctx, rec, &result)
	}

	slog.Info("checkpoint processed",
		"batch_id", rec.BatchID,
		"prediction", result.Prediction,
		"probability", result.Probability,
		"alert_level", result.Level,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// emitAlert persists and publishes the alert for a flagged row.
func (w *Worker) emitAlert(ctx context.Context, rec *domain.CheckpointRecord, result *domain.ScoredRecord) {
	a := alert.Assemble(rec, result.Probability, result.FraudTypes, result.ScoredAt)

	if w.repo != nil {
		if err := w.repo.SaveAlert(ctx, a); err != nil {
			slog.Error("failed to save alert",
				"batch_id", rec.BatchID,
				"alert_id", a.ID,
				"error", err,
			)
		}
	}

	if w.cache != nil {
		count, err := w.cache.IncrementCounter(ctx, "distributor:"+rec.DistributorID, time.Hour)
		if err != nil {
			slog.Warn("failed to increment alert counter",
				"distributor_id", rec.DistributorID,
				"error", err,
			)
		} else if count >= 5 {
			slog.Warn("distributor alert rate elevated",
				"distributor_id", rec.DistributorID,
				"alerts_last_hour", count,
			)
		}
		// Any new alert invalidates the cached export document.
		_ = w.cache.Delete(ctx, "export:latest")
	}

	alertPayload, _ := json.Marshal(a)
	if err := w.bus.Publish(ctx, domain.TopicAlert, alertPayload); err != nil {
		slog.Error("failed to publish alert",
			"batch_id", rec.BatchID,
			"alert_id", a.ID,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
