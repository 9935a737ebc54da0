// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agritrace/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAlert stores a fraud alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.FraudAlert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert ID is required", ErrInvalidInput)
	}

	fraudTypes, _ := json.Marshal(alert.FraudTypes)

	query := `
		INSERT INTO alerts (
			id, batch_id, product, producer, distributor_id,
			quantity, last_location, destination,
			fraud_probability, fraud_prediction, alert_level, fraud_types,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.BatchID, alert.Product, alert.Producer, alert.DistributorID,
		alert.Quantity, alert.LastLocation, alert.Destination,
		alert.Probability, alert.Prediction, string(alert.Level), string(fraudTypes),
		alert.CreatedAt,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.FraudAlert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, batch_id, product, producer, distributor_id,
			   quantity, last_location, destination,
			   fraud_probability, fraud_prediction, alert_level, fraud_types,
			   created_at
		FROM alerts
		WHERE id = ?
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListAlerts retrieves alerts created at or after since, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, since time.Time, limit int) ([]*domain.FraudAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, batch_id, product, producer, distributor_id,
			   quantity, last_location, destination,
			   fraud_probability, fraud_prediction, alert_level, fraud_types,
			   created_at
		FROM alerts
		WHERE created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListAlertsByLevel retrieves alerts of a given severity, newest first.
func (r *SQLRepository) ListAlertsByLevel(ctx context.Context, level domain.Severity, limit int) ([]*domain.FraudAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, batch_id, product, producer, distributor_id,
			   quantity, last_location, destination,
			   fraud_probability, fraud_prediction, alert_level, fraud_types,
			   created_at
		FROM alerts
		WHERE alert_level = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(level), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// SaveTrainingRun records one (re)training of the classifier.
func (r *SQLRepository) SaveTrainingRun(ctx context.Context, run *domain.TrainingRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: training run ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO training_runs (
			id, samples, fraud_samples, roc_auc, f1,
			cv_auc_mean, cv_auc_stddev, artifact_path, trained_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Samples, run.FraudSamples, run.ROCAUC, run.F1,
		run.CVAUCMean, run.CVAUCStddev, run.ArtifactPath, run.TrainedAt,
	)
	return err
}

// LatestTrainingRun retrieves the most recent training run.
func (r *SQLRepository) LatestTrainingRun(ctx context.Context) (*domain.TrainingRun, error) {
	query := `
		SELECT id, samples, fraud_samples, roc_auc, f1,
			   cv_auc_mean, cv_auc_stddev, artifact_path, trained_at
		FROM training_runs
		ORDER BY trained_at DESC
		LIMIT 1
	`

	var run domain.TrainingRun
	err := r.db.QueryRowContext(ctx, query).Scan(
		&run.ID, &run.Samples, &run.FraudSamples, &run.ROCAUC, &run.F1,
		&run.CVAUCMean, &run.CVAUCStddev, &run.ArtifactPath, &run.TrainedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	var fraudTypes, level string

	err := row.Scan(
		&a.ID, &a.BatchID, &a.Product, &a.Producer, &a.DistributorID,
		&a.Quantity, &a.LastLocation, &a.Destination,
		&a.Probability, &a.Prediction, &level, &fraudTypes,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Level = domain.Severity(level)
	if fraudTypes != "" {
		json.Unmarshal([]byte(fraudTypes), &a.FraudTypes)
	}
	return &a, nil
}

func collectAlerts(rows *sql.Rows) ([]*domain.FraudAlert, error) {
	var alerts []*domain.FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
