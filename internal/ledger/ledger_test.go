package ledger

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/agritrace/kestrel/internal/bus"
	"github.com/agritrace/kestrel/internal/domain"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func testAlert(batchID string) *domain.FraudAlert {
	return &domain.FraudAlert{
		ID:            "alert-" + batchID,
		BatchID:       batchID,
		DistributorID: "DIST-03",
		Quantity:      9000,
		Probability:   0.91,
		Prediction:    1,
		Level:         domain.SeverityCritical,
		FraudTypes:    []string{domain.FraudHoarding},
		CreatedAt:     time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecord(t *testing.T) {
	sim := New(42, nil)

	tx, err := sim.Record(context.Background(), testAlert("BATCH-7001"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if !txHashPattern.MatchString(tx.TxHash) {
		t.Errorf("malformed tx hash: %s", tx.TxHash)
	}
	if tx.BatchID != "BATCH-7001" {
		t.Errorf("unexpected batch id: %s", tx.BatchID)
	}
	if tx.AlertLevel != domain.SeverityCritical {
		t.Errorf("unexpected alert level: %s", tx.AlertLevel)
	}
	if tx.BlockNumber < 1_000_000 || tx.BlockNumber >= 10_000_000 {
		t.Errorf("block number out of range: %d", tx.BlockNumber)
	}
	if tx.Status != "CONFIRMED" {
		t.Errorf("expected CONFIRMED, got %s", tx.Status)
	}

	txs := sim.Transactions()
	if len(txs) != 1 || txs[0].TxHash != tx.TxHash {
		t.Errorf("transaction not retained: %v", txs)
	}
}

func TestHashDeterminism(t *testing.T) {
	a := testAlert("BATCH-7002")

	h1, err := Hash(a)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	h2, err := Hash(a)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("same alert hashed differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected a 64-char hex digest, got %d chars", len(h1))
	}

	// The tx hash is the 0x-prefixed digest truncation.
	sim := New(42, nil)
	tx, err := sim.Record(context.Background(), a)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if tx.TxHash != "0x"+h1[:40] {
		t.Errorf("tx hash %s does not match digest %s", tx.TxHash, h1)
	}

	// Any field change must change the digest.
	b := testAlert("BATCH-7002")
	b.Probability = 0.92
	h3, _ := Hash(b)
	if h3 == h1 {
		t.Error("tampered alert produced the same digest")
	}
}

func TestRecordBatch(t *testing.T) {
	sim := New(42, nil)

	export := &domain.AlertExport{
		TotalAlerts: 3,
		Alerts: []domain.FraudAlert{
			*testAlert("BATCH-7101"),
			*testAlert("BATCH-7102"),
			*testAlert("BATCH-7103"),
		},
	}

	txs, err := sim.RecordBatch(context.Background(), export)
	if err != nil {
		t.Fatalf("batch record failed: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	for i, tx := range txs {
		if tx.BatchID != export.Alerts[i].BatchID {
			t.Errorf("tx %d: batch id mismatch: %s", i, tx.BatchID)
		}
	}
	if len(sim.Transactions()) != 3 {
		t.Errorf("expected 3 retained transactions, got %d", len(sim.Transactions()))
	}
}

func TestPublishesToBus(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	received := make(chan domain.LedgerTx, 1)
	_, err := eventBus.Subscribe(context.Background(), domain.TopicLedgerTx, func(ctx context.Context, msg *domain.Message) error {
		var tx domain.LedgerTx
		if err := json.Unmarshal(msg.Payload, &tx); err != nil {
			t.Errorf("malformed ledger tx payload: %v", err)
			return err
		}
		received <- tx
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sim := New(42, eventBus)
	tx, err := sim.Record(context.Background(), testAlert("BATCH-7201"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	select {
	case got := <-received:
		if got.TxHash != tx.TxHash {
			t.Errorf("published tx %s does not match recorded %s", got.TxHash, tx.TxHash)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ledger tx on the bus")
	}
}

func TestSubscribeAlerts(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	sim := New(42, eventBus)
	sub, err := sim.SubscribeAlerts(context.Background())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	payload, _ := json.Marshal(testAlert("BATCH-7301"))
	if err := eventBus.Publish(context.Background(), domain.TopicAlert, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		txs := sim.Transactions()
		if len(txs) == 1 {
			if txs[0].BatchID != "BATCH-7301" {
				t.Errorf("anchored wrong batch: %s", txs[0].BatchID)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("published alert was never anchored")
}

func TestSubscribeAlertsRequiresBus(t *testing.T) {
	sim := New(42, nil)
	if _, err := sim.SubscribeAlerts(context.Background()); err == nil {
		t.Error("expected an error without a bus")
	}
}
