package domain

import (
	"context"
	"time"
)

// Repository persists alerts and training runs.
type Repository interface {
	// Alert operations
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	GetAlert(ctx context.Context, alertID string) (*FraudAlert, error)
	ListAlerts(ctx context.Context, since time.Time, limit int) ([]*FraudAlert, error)
	ListAlertsByLevel(ctx context.Context, level Severity, limit int) ([]*FraudAlert, error)

	// Training run bookkeeping
	SaveTrainingRun(ctx context.Context, run *TrainingRun) error
	LatestTrainingRun(ctx context.Context) (*TrainingRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TrainingRun records one (re)training of the classifier.
type TrainingRun struct {
	ID           string    `json:"id"`
	Samples      int       `json:"samples"`
	FraudSamples int       `json:"fraudSamples"`
	ROCAUC       float64   `json:"rocAuc"`
	F1           float64   `json:"f1"`
	CVAUCMean    float64   `json:"cvAucMean"`
	CVAUCStddev  float64   `json:"cvAucStddev"`
	ArtifactPath string    `json:"artifactPath"`
	TrainedAt    time.Time `json:"trainedAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
