// Package rules provides the CEL-Go based fraud-subtype rule engine.
//
// The rules are the explainable complement to the opaque classifier score:
// they run only on rows the classifier already flagged, in a fixed priority
// order, and a row may accumulate several labels. A flagged row that matches
// no rule gets the single fallback label ML_DETECTED_ANOMALY.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/agritrace/kestrel/internal/domain"
)

// subtypeRule pairs a label with its CEL predicate source.
type subtypeRule struct {
	Label      string
	Expression string
}

// subtypeRules is the fixed evaluation order. The two quantity rules are
// mutually exclusive by construction: both require quantity_zscore > 3, and
// the price-per-unit comparison splits cleanly between them.
var subtypeRules = []subtypeRule{
	{domain.FraudExpiredGoodsInTransit, "is_expired == 1.0 && status_risk_code >= 2.0"},
	{domain.FraudLongStorageAnomaly, "transport_time > 168.0 && checkpoint_count < 3.0"},
	{domain.FraudMissingShipment, "no_checkpoint == 1.0"},
	{domain.FraudDuplicateBatchID, "is_duplicate == 1.0"},
	{domain.FraudSuspiciousBulkPurchase, "quantity_zscore > 3.0 && price_per_unit < price * 0.4"},
	{domain.FraudHoarding, "quantity_zscore > 3.0 && price_per_unit >= price * 0.4"},
}

// Engine evaluates the subtype rules against engineered feature rows.
// Programs are compiled once at construction; evaluation is deterministic
// and side-effect free.
type Engine struct {
	programs []compiledRule
}

type compiledRule struct {
	label   string
	program cel.Program
}

// NewEngine compiles the subtype rule set.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("is_expired", cel.DoubleType),
		cel.Variable("status_risk_code", cel.DoubleType),
		cel.Variable("transport_time", cel.DoubleType),
		cel.Variable("checkpoint_count", cel.DoubleType),
		cel.Variable("no_checkpoint", cel.DoubleType),
		cel.Variable("is_duplicate", cel.DoubleType),
		cel.Variable("quantity_zscore", cel.DoubleType),
		cel.Variable("price_per_unit", cel.DoubleType),
		cel.Variable("price", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs := make([]compiledRule, 0, len(subtypeRules))
	for _, r := range subtypeRules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", r.Label, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.Label, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", r.Label, err)
		}
		programs = append(programs, compiledRule{label: r.Label, program: program})
	}

	return &Engine{programs: programs}, nil
}

// ClassifySubtypes returns the ordered, non-empty label sequence for a row
// the classifier flagged as fraud.
func (e *Engine) ClassifySubtypes(f *domain.FeatureVector) []string {
	activation := map[string]any{
		"is_expired":       f.IsExpired,
		"status_risk_code": f.StatusRiskCode,
		"transport_time":   f.TransportTime,
		"checkpoint_count": f.CheckpointCount,
		"no_checkpoint":    f.NoCheckpoint,
		"is_duplicate":     f.IsDuplicate,
		"quantity_zscore":  f.QuantityZscore,
		"price_per_unit":   f.PricePerUnit,
		"price":            f.Price,
	}

	var labels []string
	for _, r := range e.programs {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			continue
		}
		if truthy(out) {
			labels = append(labels, r.label)
		}
	}

	if len(labels) == 0 {
		return []string{domain.FraudMLDetectedAnomaly}
	}
	return labels
}

// RulesCount returns the number of compiled rules.
func (e *Engine) RulesCount() int {
	return len(e.programs)
}

// Labels returns the rule labels in evaluation order.
func (e *Engine) Labels() []string {
	labels := make([]string, len(e.programs))
	for i, r := range e.programs {
		labels[i] = r.label
	}
	return labels
}

func truthy(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}
