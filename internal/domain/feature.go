package domain

// FeatureNames is the fixed, ordered feature schema shared by training and
// inference. The column order is a contract: the classifier is trained and
// queried on vectors laid out exactly like this.
var FeatureNames = []string{
	"quantity",
	"transport_time",
	"checkpoint_count",
	"price",
	"days_until_expiry",
	"days_since_production",
	"shelf_life_consumed_pct",
	"is_expired",
	"transport_time_zscore",
	"quantity_zscore",
	"price_per_unit",
	"checkpoint_density",
	"no_checkpoint",
	"batch_duplicate_count",
	"is_duplicate",
	"distributor_total_qty",
	"distributor_qty_zscore",
	"location_code",
	"status_risk_code",
	"hour_of_day",
	"long_storage_flag",
	"bulk_purchase_flag",
}

// FeatureVector is one engineered row. Every field is a finite number; the
// feature engine imputes defaults so no NaN or missing value ever survives.
type FeatureVector struct {
	BatchID       string `json:"batchId"`
	DistributorID string `json:"distributorId"`

	Quantity             float64 `json:"quantity"`
	TransportTime        float64 `json:"transportTime"`
	CheckpointCount      float64 `json:"checkpointCount"`
	Price                float64 `json:"price"`
	DaysUntilExpiry      float64 `json:"daysUntilExpiry"`
	DaysSinceProduction  float64 `json:"daysSinceProduction"`
	ShelfLifeConsumedPct float64 `json:"shelfLifeConsumedPct"`
	IsExpired            float64 `json:"isExpired"`
	TransportTimeZscore  float64 `json:"transportTimeZscore"`
	QuantityZscore       float64 `json:"quantityZscore"`
	PricePerUnit         float64 `json:"pricePerUnit"`
	CheckpointDensity    float64 `json:"checkpointDensity"`
	NoCheckpoint         float64 `json:"noCheckpoint"`
	BatchDuplicateCount  float64 `json:"batchDuplicateCount"`
	IsDuplicate          float64 `json:"isDuplicate"`
	DistributorTotalQty  float64 `json:"distributorTotalQty"`
	DistributorQtyZscore float64 `json:"distributorQtyZscore"`
	LocationCode         float64 `json:"locationCode"`
	StatusRiskCode       float64 `json:"statusRiskCode"`
	HourOfDay            float64 `json:"hourOfDay"`
	LongStorageFlag      float64 `json:"longStorageFlag"`
	BulkPurchaseFlag     float64 `json:"bulkPurchaseFlag"`
}

// Vector lays the row out in FeatureNames order.
func (f *FeatureVector) Vector() []float64 {
	return []float64{
		f.Quantity,
		f.TransportTime,
		f.CheckpointCount,
		f.Price,
		f.DaysUntilExpiry,
		f.DaysSinceProduction,
		f.ShelfLifeConsumedPct,
		f.IsExpired,
		f.TransportTimeZscore,
		f.QuantityZscore,
		f.PricePerUnit,
		f.CheckpointDensity,
		f.NoCheckpoint,
		f.BatchDuplicateCount,
		f.IsDuplicate,
		f.DistributorTotalQty,
		f.DistributorQtyZscore,
		f.LocationCode,
		f.StatusRiskCode,
		f.HourOfDay,
		f.LongStorageFlag,
		f.BulkPurchaseFlag,
	}
}

// PopulationStats are the batch-relative statistics the z-score and bulk
// features depend on. They are computed over the training batch and persisted
// with the model artifact so single-record inference sees the training
// population instead of a degenerate batch of one.
type PopulationStats struct {
	TransportTimeMean   float64 `json:"transportTimeMean"`
	TransportTimeStddev float64 `json:"transportTimeStddev"`
	QuantityMean        float64 `json:"quantityMean"`
	QuantityStddev      float64 `json:"quantityStddev"`
	DistQtyMean         float64 `json:"distQtyMean"`
	DistQtyStddev       float64 `json:"distQtyStddev"`
	QuantityP95         float64 `json:"quantityP95"`
}
