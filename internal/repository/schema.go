package repository

// Schema definitions for the alert store.
// Compatible with both SQLite and PostgreSQL.

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    product TEXT,
    producer TEXT,
    distributor_id TEXT NOT NULL,
    quantity REAL NOT NULL,
    last_location TEXT,
    destination TEXT,
    fraud_probability REAL NOT NULL,
    fraud_prediction INTEGER NOT NULL,
    alert_level TEXT NOT NULL,
    fraud_types TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_batch ON alerts(batch_id);
CREATE INDEX IF NOT EXISTS idx_alerts_distributor ON alerts(distributor_id);
CREATE INDEX IF NOT EXISTS idx_alerts_level ON alerts(alert_level);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

const schemaTrainingRuns = `
CREATE TABLE IF NOT EXISTS training_runs (
    id TEXT PRIMARY KEY,
    samples INTEGER NOT NULL,
    fraud_samples INTEGER NOT NULL,
    roc_auc REAL NOT NULL,
    f1 REAL NOT NULL,
    cv_auc_mean REAL NOT NULL,
    cv_auc_stddev REAL NOT NULL,
    artifact_path TEXT NOT NULL,
    trained_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_training_runs_trained ON training_runs(trained_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAlerts,
		schemaTrainingRuns,
	}
}
