// Package scoring is the end-to-end orchestrator: raw checkpoint records in,
// alert-annotated rows out. It is the sole caller of the feature engine, the
// classifier, the rule engine and the alert assembler.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agritrace/kestrel/internal/alert"
	"github.com/agritrace/kestrel/internal/domain"
	"github.com/agritrace/kestrel/internal/features"
	"github.com/agritrace/kestrel/internal/forest"
	"github.com/agritrace/kestrel/internal/rules"
	"github.com/agritrace/kestrel/internal/synth"
)

var tracer = otel.Tracer("kestrel-scoring")

// Service owns the model handle and runs the scoring pipeline. The model is
// loaded once at startup and shared read-only across concurrent inference
// calls; retraining swaps in a fresh model atomically so in-flight calls
// never observe a partial update.
type Service struct {
	model atomic.Pointer[forest.Model]
	rules *rules.Engine
	cfg   domain.ModelConfig
}

// NewService creates an orchestrator without a model; call Bootstrap or
// Train before scoring.
func NewService(cfg domain.ModelConfig, ruleEngine *rules.Engine) *Service {
	return &Service{rules: ruleEngine, cfg: cfg}
}

// Bootstrap loads the model artifact. A missing or corrupt artifact is not
// fatal: the service synthesizes a training set, trains in process and keeps
// serving.
func (s *Service) Bootstrap(ctx context.Context) error {
	m, err := forest.Load(s.cfg.ArtifactPath)
	if err == nil {
		s.model.Store(m)
		slog.Info("model loaded", "path", s.cfg.ArtifactPath, "trees", len(m.Trees), "trained_at", m.TrainedAt)
		return nil
	}

	slog.Warn("model artifact unavailable, training from synthetic data", "path", s.cfg.ArtifactPath, "error", err)

	samples := s.cfg.FallbackSamples
	if samples <= 0 {
		samples = 1200
	}
	ratio := s.cfg.FallbackFraudRatio
	if ratio <= 0 {
		ratio = 0.15
	}

	gen := synth.New(s.cfg.Seed)
	records := gen.Dataset(samples, ratio)

	if _, err := s.Train(ctx, records, synth.Labels(records)); err != nil {
		// Training succeeded but the artifact could not be written: keep
		// serving from memory, the operator can retrain later.
		if s.model.Load() != nil {
			slog.Warn("fallback model trained but not persisted", "error", err)
			return nil
		}
		return fmt.Errorf("fallback training failed: %w", err)
	}
	return nil
}

// Train fits a new model on labeled records, swaps it in atomically and
// persists the artifact. A persistence failure is surfaced to the caller —
// a silently unsaved model is a correctness risk — but the freshly trained
// model still replaces the old one.
func (s *Service) Train(ctx context.Context, records []*domain.CheckpointRecord, labels []int) (*forest.Evaluation, error) {
	_, span := tracer.Start(ctx, "scoring.Train",
		trace.WithAttributes(attribute.Int("records", len(records))))
	defer span.End()

	if len(records) == 0 || len(records) != len(labels) {
		return nil, fmt.Errorf("training set is empty or misaligned: %d records, %d labels", len(records), len(labels))
	}

	stats := features.Stats(records)
	rows := features.Engineer(records, nil)
	x := make([][]float64, len(rows))
	for i := range rows {
		x[i] = rows[i].Vector()
	}

	m, err := forest.Train(forest.Config{
		Trees:          s.cfg.Trees,
		MaxDepth:       s.cfg.MaxDepth,
		MinSamplesLeaf: s.cfg.MinSamplesLeaf,
		Seed:           s.cfg.Seed,
	}, x, labels, stats)
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}

	s.model.Store(m)
	slog.Info("model trained",
		"samples", m.Evaluation.Samples,
		"fraud_samples", m.Evaluation.FraudSamples,
		"roc_auc", m.Evaluation.ROCAUC,
		"f1", m.Evaluation.F1,
		"cv_auc_mean", m.Evaluation.CVAUCMean,
	)

	if err := forest.Save(m, s.cfg.ArtifactPath); err != nil {
		return m.Evaluation, fmt.Errorf("model trained but artifact save failed: %w", err)
	}
	return m.Evaluation, nil
}

// Score runs the full pipeline over a batch. Feature engineering sees the
// whole batch at once so batch-relative features use the full population;
// the rule engine runs only on rows the classifier flagged. Single-record
// inference is the degenerate batch of one.
//
// Score is total for valid model state: an internal classifier fault
// degrades the affected rows to {prediction 0, probability 0} and is logged
// rather than propagated.
func (s *Service) Score(ctx context.Context, records []*domain.CheckpointRecord) ([]domain.ScoredRecord, error) {
	_, span := tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(attribute.Int("records", len(records))))
	defer span.End()

	m := s.model.Load()
	if m == nil {
		return nil, forest.ErrNotFitted
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := features.Engineer(records, &m.Stats)
	x := make([][]float64, len(rows))
	for i := range rows {
		x[i] = rows[i].Vector()
	}

	now := time.Now().UTC()
	results := make([]domain.ScoredRecord, len(records))

	probs, err := m.PredictProba(x)
	if err != nil {
		// Inference fault: degrade to the safe default rather than fail the
		// batch, but make it visible to operators.
		slog.Error("inference failed, returning safe defaults", "error", err, "records", len(records))
		span.RecordError(err)
		for i, rec := range records {
			results[i] = domain.ScoredRecord{
				Record:   *rec,
				Level:    domain.SeverityLow,
				ScoredAt: now,
			}
		}
		return results, nil
	}

	for i, rec := range records {
		prob := probs[i]
		pred := 0
		if prob >= m.Threshold {
			pred = 1
		}

		var labels []string
		if pred == 1 {
			labels = s.rules.ClassifySubtypes(&rows[i])
		}

		results[i] = domain.ScoredRecord{
			Record:      *rec,
			Probability: alert.Round4(prob),
			Prediction:  pred,
			Level:       alert.LevelFor(prob),
			FraudTypes:  labels,
			ScoredAt:    now,
		}
	}
	return results, nil
}

// PredictOne scores a single coerced record and shapes the wire response.
func (s *Service) PredictOne(ctx context.Context, rec *domain.CheckpointRecord) (*domain.PredictResponse, error) {
	results, err := s.Score(ctx, []*domain.CheckpointRecord{rec})
	if err != nil {
		return nil, err
	}
	r := results[0]
	types := r.FraudTypes
	if types == nil {
		types = []string{}
	}
	return &domain.PredictResponse{
		FraudPrediction:  r.Prediction,
		FraudProbability: r.Probability,
		AlertLevel:       r.Level,
		FraudTypes:       types,
	}, nil
}

// Model returns the current model handle, or nil before bootstrap.
func (s *Service) Model() *forest.Model {
	return s.model.Load()
}
