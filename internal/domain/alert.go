package domain

import "time"

// Severity is the four-tier alert level derived from fraud probability.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Fraud subtype labels emitted by the rule engine, in evaluation priority
// order. A predicted-fraud row always carries at least one label.
const (
	FraudExpiredGoodsInTransit  = "EXPIRED_GOODS_IN_TRANSIT"
	FraudLongStorageAnomaly     = "LONG_STORAGE_ANOMALY"
	FraudMissingShipment        = "MISSING_SHIPMENT"
	FraudDuplicateBatchID       = "DUPLICATE_BATCH_ID"
	FraudSuspiciousBulkPurchase = "SUSPICIOUS_BULK_PURCHASE"
	FraudHoarding               = "HOARDING"
	FraudMLDetectedAnomaly      = "ML_DETECTED_ANOMALY"
)

// FraudAlert is the immutable alert produced for a scored record.
type FraudAlert struct {
	ID            string   `json:"id"`
	BatchID       string   `json:"batch_id"`
	Product       string   `json:"product,omitempty"`
	Producer      string   `json:"producer,omitempty"`
	DistributorID string   `json:"distributor_id"`
	Quantity      float64  `json:"quantity"`
	LastLocation  string   `json:"last_location"`
	Destination   string   `json:"destination,omitempty"`
	Probability   float64  `json:"fraud_probability"`
	Prediction    int      `json:"fraud_prediction"`
	Level         Severity `json:"alert_level"`
	FraudTypes    []string `json:"fraud_types"`

	CreatedAt time.Time `json:"alert_timestamp"`
}

// ScoredRecord is the enriched orchestrator output: the original record plus
// classifier and rule outputs.
type ScoredRecord struct {
	Record      CheckpointRecord `json:"record"`
	Probability float64          `json:"fraudProbability"`
	Prediction  int              `json:"fraudPrediction"`
	Level       Severity         `json:"alertLevel"`
	FraudTypes  []string         `json:"fraudTypes,omitempty"`
	ScoredAt    time.Time        `json:"scoredAt"`
}

// PredictResponse is the single-record inference contract.
type PredictResponse struct {
	FraudPrediction  int      `json:"fraud_prediction"`
	FraudProbability float64  `json:"fraud_probability"`
	AlertLevel       Severity `json:"alert_level"`
	FraudTypes       []string `json:"fraud_types"`
}

// AlertExport is the batch export document consumed by the ledger collaborator.
type AlertExport struct {
	TotalAlerts int          `json:"total_alerts"`
	Alerts      []FraudAlert `json:"alerts"`
}

// LedgerTx is a simulated on-chain record of an alert hash.
type LedgerTx struct {
	TxHash      string    `json:"tx_hash"`
	BatchID     string    `json:"batch_id"`
	AlertLevel  Severity  `json:"alert_level"`
	FraudTypes  []string  `json:"fraud_types"`
	BlockNumber int64     `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}
