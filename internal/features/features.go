// Package features turns raw checkpoint records into the fixed numeric
// feature schema the classifier and rule engine operate on.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/agritrace/kestrel/internal/domain"
)

// epsilon keeps z-score denominators away from zero.
const epsilon = 1e-9

// Engineer derives one FeatureVector per record. It is total: missing or
// skewed inputs are coerced to defaults, never rejected — a backwards expiry
// date is a fraud signal, not an error.
//
// When stats is nil the population-relative features (z-scores, bulk
// percentile) are computed over the batch itself; this is the training path.
// At inference the caller passes the training-time statistics persisted with
// the model so a batch of one does not collapse every z-score to zero.
func Engineer(records []*domain.CheckpointRecord, stats *domain.PopulationStats) []domain.FeatureVector {
	return EngineerAt(records, stats, time.Now().UTC())
}

// EngineerAt is Engineer with an explicit clock, for deterministic tests.
func EngineerAt(records []*domain.CheckpointRecord, stats *domain.PopulationStats, now time.Time) []domain.FeatureVector {
	if len(records) == 0 {
		return nil
	}

	// Batch-level aggregates: duplicate batch ids and per-distributor totals.
	batchCounts := make(map[string]int, len(records))
	distTotals := make(map[string]float64, len(records))
	for _, r := range records {
		batchCounts[r.BatchID]++
		distTotals[r.DistributorID] += r.Quantity
	}

	distQty := make([]float64, len(records))
	transport := make([]float64, len(records))
	quantity := make([]float64, len(records))
	for i, r := range records {
		distQty[i] = distTotals[r.DistributorID]
		transport[i] = r.TransportTimeHours
		quantity[i] = r.Quantity
	}

	if stats == nil {
		s := statsFor(transport, quantity, distQty)
		stats = &s
	}

	rows := make([]domain.FeatureVector, len(records))
	for i, r := range records {
		prod, expiry, ts := coerceDates(r, now)

		f := domain.FeatureVector{
			BatchID:       r.BatchID,
			DistributorID: r.DistributorID,

			Quantity:        r.Quantity,
			TransportTime:   r.TransportTimeHours,
			CheckpointCount: float64(r.CheckpointCount),
			Price:           r.Price,
		}

		f.DaysUntilExpiry = floorDays(expiry.Sub(ts))
		f.DaysSinceProduction = floorDays(ts.Sub(prod))

		totalShelf := floorDays(expiry.Sub(prod))
		if totalShelf == 0 {
			totalShelf = 1
		}
		f.ShelfLifeConsumedPct = clamp(f.DaysSinceProduction/totalShelf*100, 0, 200)

		if f.DaysUntilExpiry < 0 {
			f.IsExpired = 1
		}

		f.TransportTimeZscore = zscore(r.TransportTimeHours, stats.TransportTimeMean, stats.TransportTimeStddev)
		f.QuantityZscore = zscore(r.Quantity, stats.QuantityMean, stats.QuantityStddev)

		f.PricePerUnit = r.Price / math.Max(r.Quantity, 1)
		f.CheckpointDensity = float64(r.CheckpointCount) / math.Max(r.TransportTimeHours, 1)
		if r.CheckpointCount == 0 {
			f.NoCheckpoint = 1
		}

		f.BatchDuplicateCount = float64(batchCounts[r.BatchID])
		if batchCounts[r.BatchID] > 1 {
			f.IsDuplicate = 1
		}

		f.DistributorTotalQty = distTotals[r.DistributorID]
		f.DistributorQtyZscore = zscore(f.DistributorTotalQty, stats.DistQtyMean, stats.DistQtyStddev)

		f.LocationCode = locationCode(r.LastLocation)
		f.StatusRiskCode = statusRiskCode(r.CurrentStatus)
		f.HourOfDay = float64(ts.Hour())

		if r.TransportTimeHours > 168 && r.CheckpointCount < 3 {
			f.LongStorageFlag = 1
		}
		if r.Quantity > stats.QuantityP95 {
			f.BulkPurchaseFlag = 1
		}

		rows[i] = sanitize(f)
	}
	return rows
}

// Stats computes the population statistics of a batch, for persisting with a
// trained model.
func Stats(records []*domain.CheckpointRecord) domain.PopulationStats {
	distTotals := make(map[string]float64, len(records))
	for _, r := range records {
		distTotals[r.DistributorID] += r.Quantity
	}
	transport := make([]float64, len(records))
	quantity := make([]float64, len(records))
	distQty := make([]float64, len(records))
	for i, r := range records {
		transport[i] = r.TransportTimeHours
		quantity[i] = r.Quantity
		distQty[i] = distTotals[r.DistributorID]
	}
	return statsFor(transport, quantity, distQty)
}

func statsFor(transport, quantity, distQty []float64) domain.PopulationStats {
	tMean, tStd := meanStddev(transport)
	qMean, qStd := meanStddev(quantity)
	dMean, dStd := meanStddev(distQty)
	return domain.PopulationStats{
		TransportTimeMean:   tMean,
		TransportTimeStddev: tStd,
		QuantityMean:        qMean,
		QuantityStddev:      qStd,
		DistQtyMean:         dMean,
		DistQtyStddev:       dStd,
		QuantityP95:         percentile(quantity, 0.95),
	}
}

// coerceDates applies the temporal defaults: an unset production date becomes
// now−30d, expiry now+365d, observation timestamp now.
func coerceDates(r *domain.CheckpointRecord, now time.Time) (prod, expiry, ts time.Time) {
	prod, expiry, ts = r.ProductionDate, r.ExpiryDate, r.Timestamp
	if prod.IsZero() {
		prod = now.AddDate(0, 0, -30)
	}
	if expiry.IsZero() {
		expiry = now.AddDate(0, 0, 365)
	}
	if ts.IsZero() {
		ts = now
	}
	return prod, expiry, ts
}

func floorDays(d time.Duration) float64 {
	return math.Floor(d.Hours() / 24)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func zscore(x, mean, stddev float64) float64 {
	return (x - mean) / (stddev + epsilon)
}

// meanStddev returns the mean and sample standard deviation. A batch of one
// has zero variance; the stddev degrades to 0 rather than NaN so downstream
// z-scores stay finite.
func meanStddev(xs []float64) (mean, stddev float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / n
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// percentile computes the p-th quantile with linear interpolation.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// sanitize enforces the total-function contract: any non-finite intermediate
// is imputed to 0 so no NaN ever reaches the classifier.
func sanitize(f domain.FeatureVector) domain.FeatureVector {
	vec := f.Vector()
	dirty := false
	for _, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			dirty = true
			break
		}
	}
	if !dirty {
		return f
	}
	fix := func(v *float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = 0
		}
	}
	for _, v := range []*float64{
		&f.Quantity, &f.TransportTime, &f.CheckpointCount, &f.Price,
		&f.DaysUntilExpiry, &f.DaysSinceProduction, &f.ShelfLifeConsumedPct,
		&f.IsExpired, &f.TransportTimeZscore, &f.QuantityZscore,
		&f.PricePerUnit, &f.CheckpointDensity, &f.NoCheckpoint,
		&f.BatchDuplicateCount, &f.IsDuplicate, &f.DistributorTotalQty,
		&f.DistributorQtyZscore, &f.LocationCode, &f.StatusRiskCode,
		&f.HourOfDay, &f.LongStorageFlag, &f.BulkPurchaseFlag,
	} {
		fix(v)
	}
	return f
}

func locationCode(loc string) float64 {
	if code, ok := domain.LocationOrder[loc]; ok {
		return float64(code)
	}
	return -1
}

func statusRiskCode(status string) float64 {
	if code, ok := domain.StatusRisk[status]; ok {
		return float64(code)
	}
	return domain.DefaultStatusRisk
}
