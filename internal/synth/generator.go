// Package synth generates labeled synthetic checkpoint datasets, used for
// fallback training when no model artifact exists and by the demo command.
package synth

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/agritrace/kestrel/internal/domain"
)

var (
	products     = []string{"Rice", "Wheat", "Maize", "Soybean", "Palm Oil"}
	locations    = []string{"Farm", "Storage", "Border", "Distributor", "Retail"}
	statuses     = []string{"In Transit", "At Storage", "Cleared", "Delivered", "Held"}
	destinations = []string{"KL_Hub", "Penang_Hub", "JB_Hub", "Sabah_Hub", "Sarawak_Hub"}

	fraudPatterns = []string{
		"Long_Storage", "Wrong_Route", "Duplicate_Entry",
		"Hoarding", "Missing_Shipment", "Expired_Goods",
		"Bulk_Purchase",
	}
)

// Generator produces reproducible labeled datasets with seeded fraud
// patterns mirroring real supply-chain abuse.
type Generator struct {
	rng *rand.Rand
	now time.Time
}

// New creates a generator with a fixed seed.
func New(seed int64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now().UTC(),
	}
}

// Dataset returns n records of which roughly fraudRatio are fraudulent,
// shuffled.
func (g *Generator) Dataset(n int, fraudRatio float64) []*domain.CheckpointRecord {
	nFraud := int(float64(n) * fraudRatio)
	records := make([]*domain.CheckpointRecord, 0, n)
	for i := 0; i < n-nFraud; i++ {
		records = append(records, g.record(false))
	}
	for i := 0; i < nFraud; i++ {
		records = append(records, g.record(true))
	}
	g.rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	return records
}

// Labels extracts the fraud labels aligned with a dataset.
func Labels(records []*domain.CheckpointRecord) []int {
	labels := make([]int, len(records))
	for i, r := range records {
		if r.IsFraud {
			labels[i] = 1
		}
	}
	return labels
}

func (g *Generator) record(isFraud bool) *domain.CheckpointRecord {
	prodDate := g.now.AddDate(0, 0, -g.intBetween(1, 180))
	expiry := prodDate.AddDate(0, 0, g.intBetween(30, 730))
	ts := prodDate.Add(time.Duration(g.intBetween(1, 2000)) * time.Hour)

	rec := &domain.CheckpointRecord{
		BatchID:             fmt.Sprintf("BATCH-%04d", g.intBetween(1000, 9999)),
		ProductName:         pick(g.rng, products),
		ProducerName:        fmt.Sprintf("Farm_%d", g.intBetween(1, 21)),
		Quantity:            float64(g.intBetween(100, 1000)),
		ProductionDate:      prodDate,
		ExpiryDate:          expiry,
		CurrentStatus:       pick(g.rng, statuses),
		LastLocation:        pick(g.rng, locations),
		ExpectedDestination: pick(g.rng, destinations),
		Timestamp:           ts,
		CheckpointCount:     g.intBetween(2, 10),
		TransportTimeHours:  g.floatBetween(1, 72),
		Price:               g.floatBetween(50, 500),
		DistributorID:       fmt.Sprintf("DIST-%02d", g.intBetween(1, 50)),
	}

	if !isFraud {
		return rec
	}

	rec.IsFraud = true
	rec.FraudType = pick(g.rng, fraudPatterns)

	switch rec.FraudType {
	case "Long_Storage":
		rec.TransportTimeHours = g.floatBetween(200, 800)
		rec.CheckpointCount = g.intBetween(1, 3)
	case "Wrong_Route":
		rec.LastLocation = pick(g.rng, []string{"Border", "Unknown"})
	case "Duplicate_Entry":
		rec.BatchID = "BATCH-9999"
		rec.CheckpointCount = g.intBetween(8, 20)
	case "Hoarding":
		rec.Quantity = float64(g.intBetween(5000, 20000))
		rec.DistributorID = "DIST-01"
	case "Missing_Shipment":
		rec.TransportTimeHours = g.floatBetween(500, 2000)
		rec.CheckpointCount = 0
	case "Expired_Goods":
		rec.ExpiryDate = prodDate.AddDate(0, 0, -g.intBetween(1, 60))
		rec.CurrentStatus = "In Transit"
	case "Bulk_Purchase":
		rec.Quantity = float64(g.intBetween(8000, 50000))
		rec.Price = rec.Price * 0.3
	}
	return rec
}

// intBetween returns an int in [lo, hi).
func (g *Generator) intBetween(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo)
}

func (g *Generator) floatBetween(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func pick(rng *rand.Rand, choices []string) string {
	return choices[rng.Intn(len(choices))]
}
