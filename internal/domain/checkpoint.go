// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Route stages in supply-chain order. Unknown locations encode as -1.
var LocationOrder = map[string]int{
	"Farm":        0,
	"Storage":     1,
	"Border":      2,
	"Distributor": 3,
	"Retail":      4,
}

// Status risk ordinals. Unknown statuses encode as the in-transit default (2).
var StatusRisk = map[string]int{
	"Delivered":  0,
	"Cleared":    1,
	"In Transit": 2,
	"At Storage": 3,
	"Held":       4,
}

// DefaultStatusRisk is applied when the status is missing or unrecognised.
const DefaultStatusRisk = 2

// CheckpointRecord is a raw supply-chain checkpoint event for a batch.
// Records arrive from an upstream ingestion layer and are immutable once
// feature engineering has run over them.
type CheckpointRecord struct {
	// Identifiers
	BatchID       string `json:"batchId"`
	ProducerName  string `json:"producerName,omitempty"`
	DistributorID string `json:"distributorId"`

	// Commodity
	ProductName string  `json:"productName,omitempty"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`

	// Temporal
	ProductionDate time.Time `json:"productionDate"`
	ExpiryDate     time.Time `json:"expiryDate"`
	Timestamp      time.Time `json:"timestamp"`

	// Logistics
	CurrentStatus       string  `json:"currentStatus"`
	LastLocation        string  `json:"lastLocation"`
	ExpectedDestination string  `json:"expectedDestination,omitempty"`
	CheckpointCount     int     `json:"checkpointCount"`
	TransportTimeHours  float64 `json:"transportTimeHours"`

	// Training label; only meaningful on labeled datasets.
	IsFraud   bool   `json:"isFraud,omitempty"`
	FraudType string `json:"fraudType,omitempty"`
}

// CheckpointRequest is the loosely-typed inference payload. Required fields
// are quantity, transport time, checkpoint count and price; everything else
// defaults per the coercion rules in the feature engine.
type CheckpointRequest struct {
	Quantity           float64 `json:"quantity"`
	TransportTimeHours float64 `json:"transportTimeHours"`
	CheckpointCount    int     `json:"checkpointCount"`
	Price              float64 `json:"price"`

	ProductionDate string `json:"productionDate,omitempty"`
	ExpiryDate     string `json:"expiryDate,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	CurrentStatus  string `json:"currentStatus,omitempty"`
	LastLocation   string `json:"lastLocation,omitempty"`
	BatchID        string `json:"batchId,omitempty"`
	DistributorID  string `json:"distributorId,omitempty"`
}

// ToRecord coerces the request into a CheckpointRecord. Unparsable or missing
// optional fields fall back to defaults reflecting a normal low-risk shipment;
// coercion never fails (a skewed date is a fraud signal, not an error).
func (r *CheckpointRequest) ToRecord(now time.Time) *CheckpointRecord {
	rec := &CheckpointRecord{
		BatchID:            r.BatchID,
		DistributorID:      r.DistributorID,
		Quantity:           r.Quantity,
		Price:              r.Price,
		CurrentStatus:      r.CurrentStatus,
		LastLocation:       r.LastLocation,
		CheckpointCount:    r.CheckpointCount,
		TransportTimeHours: r.TransportTimeHours,
		ProductionDate:     parseTimeOr(r.ProductionDate, now.AddDate(0, 0, -30)),
		ExpiryDate:         parseTimeOr(r.ExpiryDate, now.AddDate(0, 0, 365)),
		Timestamp:          parseTimeOr(r.Timestamp, now),
	}
	if rec.BatchID == "" {
		rec.BatchID = "BATCH-0000"
	}
	if rec.DistributorID == "" {
		rec.DistributorID = "DIST-01"
	}
	if rec.CurrentStatus == "" {
		rec.CurrentStatus = "In Transit"
	}
	if rec.LastLocation == "" {
		rec.LastLocation = "Farm"
	}
	return rec
}

// parseTimeOr accepts RFC 3339 or bare dates; anything else yields def.
func parseTimeOr(s string, def time.Time) time.Time {
	if s == "" {
		return def
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return def
}
