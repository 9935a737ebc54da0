// Package ledger simulates anchoring alert hashes on a blockchain. Each alert
// is canonicalized to JSON, hashed with SHA-256 and wrapped in a transaction
// record. No real chain is involved; the point is a tamper-evident digest per
// alert that downstream systems can verify.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/agritrace/kestrel/internal/domain"
)

// Simulator hashes alerts into simulated on-chain transactions and keeps the
// confirmed set in memory for inspection.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
	txs []domain.LedgerTx
	bus domain.EventBus
}

// New creates a simulator. The bus is optional; when set, each confirmed
// transaction is also published to TopicLedgerTx.
func New(seed int64, bus domain.EventBus) *Simulator {
	return &Simulator{
		rng: rand.New(rand.NewSource(seed)),
		bus: bus,
	}
}

// Record hashes one alert and appends the resulting transaction.
func (s *Simulator) Record(ctx context.Context, a *domain.FraudAlert) (*domain.LedgerTx, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize alert %s: %w", a.ID, err)
	}
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	s.mu.Lock()
	tx := domain.LedgerTx{
		TxHash:      "0x" + digest[:40],
		BatchID:     a.BatchID,
		AlertLevel:  a.Level,
		FraudTypes:  a.FraudTypes,
		BlockNumber: 1_000_000 + s.rng.Int63n(9_000_000),
		Timestamp:   time.Now().UTC(),
		Status:      "CONFIRMED",
	}
	s.txs = append(s.txs, tx)
	s.mu.Unlock()

	if s.bus != nil {
		raw, err := json.Marshal(tx)
		if err == nil {
			err = s.bus.Publish(ctx, domain.TopicLedgerTx, raw)
		}
		if err != nil {
			slog.Warn("failed to publish ledger tx", "tx_hash", tx.TxHash, "error", err)
		}
	}
	return &tx, nil
}

// RecordBatch hashes every alert in an export document.
func (s *Simulator) RecordBatch(ctx context.Context, export *domain.AlertExport) ([]domain.LedgerTx, error) {
	txs := make([]domain.LedgerTx, 0, len(export.Alerts))
	for i := range export.Alerts {
		tx, err := s.Record(ctx, &export.Alerts[i])
		if err != nil {
			return txs, err
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

// Hash returns the hex SHA-256 digest of an alert's canonical JSON without
// recording a transaction. Used for verification.
func Hash(a *domain.FraudAlert) (string, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize alert %s: %w", a.ID, err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Transactions returns a snapshot of the confirmed transactions.
func (s *Simulator) Transactions() []domain.LedgerTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LedgerTx, len(s.txs))
	copy(out, s.txs)
	return out
}

// SubscribeAlerts wires the simulator to the alert topic so every published
// alert is anchored automatically.
func (s *Simulator) SubscribeAlerts(ctx context.Context) (domain.Subscription, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("no event bus configured")
	}
	return s.bus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		var a domain.FraudAlert
		if err := json.Unmarshal(msg.Payload, &a); err != nil {
			return fmt.Errorf("malformed alert payload: %w", err)
		}
		_, err := s.Record(ctx, &a)
		return err
	})
}
