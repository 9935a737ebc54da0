// Package alert maps classifier output and rule labels onto severity levels
// and immutable FraudAlert records.
package alert

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/agritrace/kestrel/internal/domain"
)

// severityBand maps an inclusive probability upper bound to a level.
type severityBand struct {
	UpperBound float64
	Level      domain.Severity
}

// severityBands is evaluated in ascending threshold order; the first band
// whose upper bound covers the probability wins, so exactly 0.3 is LOW and
// exactly 0.8 is HIGH.
var severityBands = []severityBand{
	{0.3, domain.SeverityLow},
	{0.6, domain.SeverityMedium},
	{0.8, domain.SeverityHigh},
	{1.0, domain.SeverityCritical},
}

// LevelFor maps a fraud probability to its severity level.
func LevelFor(probability float64) domain.Severity {
	for _, band := range severityBands {
		if probability <= band.UpperBound {
			return band.Level
		}
	}
	return domain.SeverityCritical
}

// Assemble builds the alert record for one scored row. Purely functional: no
// state, no clock beyond the supplied generation time.
func Assemble(rec *domain.CheckpointRecord, probability float64, ruleLabels []string, now time.Time) *domain.FraudAlert {
	return &domain.FraudAlert{
		ID:            uuid.New().String(),
		BatchID:       rec.BatchID,
		Product:       rec.ProductName,
		Producer:      rec.ProducerName,
		DistributorID: rec.DistributorID,
		Quantity:      rec.Quantity,
		LastLocation:  rec.LastLocation,
		Destination:   rec.ExpectedDestination,
		Probability:   Round4(probability),
		Prediction:    1,
		Level:         LevelFor(probability),
		FraudTypes:    ruleLabels,
		CreatedAt:     now,
	}
}

// Round4 rounds a probability to four decimal places, the wire precision of
// the inference response.
func Round4(p float64) float64 {
	return math.Round(p*10000) / 10000
}

// Export builds the batch export document consumed by the ledger
// collaborator.
func Export(alerts []*domain.FraudAlert) *domain.AlertExport {
	doc := &domain.AlertExport{
		TotalAlerts: len(alerts),
		Alerts:      make([]domain.FraudAlert, len(alerts)),
	}
	for i, a := range alerts {
		doc.Alerts[i] = *a
	}
	return doc
}
