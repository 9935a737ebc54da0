// Kestrel demo - end-to-end offline run of the fraud scoring pipeline.
// Copyright (c) 2025 agritrace
// Licensed under the Apache License 2.0
//
// Usage:
//   go run cmd/kestreldemo/main.go [-samples 2000] [-score 50] [-out fraud_alerts.json]
//
// This tool:
//  1. Generates a labeled synthetic checkpoint dataset
//  2. Trains the random forest classifier and prints evaluation metrics
//  3. Scores a fresh batch of unseen records
//  4. Prints the alert report and writes the alert export document
//  5. Anchors each alert hash on the simulated ledger

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/agritrace/kestrel/internal/alert"
	"github.com/agritrace/kestrel/internal/domain"
	"github.com/agritrace/kestrel/internal/ledger"
	"github.com/agritrace/kestrel/internal/rules"
	"github.com/agritrace/kestrel/internal/scoring"
	"github.com/agritrace/kestrel/internal/synth"
)

func main() {
	samples := flag.Int("samples", 2000, "Training set size")
	fraudRatio := flag.Float64("fraud-ratio", 0.15, "Fraud share of the training set")
	scoreCount := flag.Int("score", 50, "Fresh records to score after training")
	seed := flag.Int64("seed", 42, "Random seed")
	modelPath := flag.String("model", "./fraud_model.gob", "Model artifact path")
	outPath := flag.String("out", "fraud_alerts.json", "Alert export output path")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL DEMO - Supply-Chain Fraud Detection            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nTraining set: %d records (%.0f%% fraud)\n", *samples, *fraudRatio*100)
	fmt.Printf("Seed:         %d\n\n", *seed)

	engine, err := rules.NewEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to build rule engine: %v\n", err)
		os.Exit(1)
	}

	scorer := scoring.NewService(domain.ModelConfig{
		ArtifactPath:   *modelPath,
		Trees:          200,
		MaxDepth:       15,
		MinSamplesLeaf: 2,
		Seed:           *seed,
	}, engine)

	// 1. Train
	gen := synth.New(*seed)
	training := gen.Dataset(*samples, *fraudRatio)

	fmt.Println("Training classifier...")
	start := time.Now()
	eval, err := scorer.Train(ctx, training, synth.Labels(training))
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}
	if eval == nil {
		os.Exit(1)
	}
	fmt.Printf("Trained in %.1fs\n\n", time.Since(start).Seconds())

	fmt.Println("Model Evaluation:")
	fmt.Printf("  Samples        : %d (%d fraud)\n", eval.Samples, eval.FraudSamples)
	fmt.Printf("  Accuracy       : %.4f\n", eval.Accuracy)
	fmt.Printf("  ROC-AUC        : %.4f\n", eval.ROCAUC)
	fmt.Printf("  F1 (fraud)     : %.4f\n", eval.F1)
	fmt.Printf("  CV AUC         : %.4f ± %.4f\n", eval.CVAUCMean, eval.CVAUCStddev)
	fmt.Println("\n  Top Features:")
	for i, imp := range eval.Importances {
		if i >= 8 {
			break
		}
		fmt.Printf("    %-28s %.4f\n", imp.Name, imp.Importance)
	}
	fmt.Println()

	// 2. Score a fresh batch
	fresh := gen.Dataset(*scoreCount, 0.3)
	results, err := scorer.Score(ctx, fresh)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: scoring failed: %v\n", err)
		os.Exit(1)
	}

	// 3. Report
	alert.WriteReport(os.Stdout, results)

	// 4. Export
	now := time.Now().UTC()
	var alerts []*domain.FraudAlert
	for i := range results {
		if results[i].Prediction == 1 {
			alerts = append(alerts, alert.Assemble(fresh[i], results[i].Probability, results[i].FraudTypes, now))
		}
	}
	export := alert.Export(alerts)

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to encode export: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to write export: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nExported %d alerts to %s\n", export.TotalAlerts, *outPath)

	// 5. Ledger simulation
	sim := ledger.New(*seed, nil)
	txs, err := sim.RecordBatch(ctx, export)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: ledger simulation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nLedger Simulation:")
	for _, tx := range txs {
		fmt.Printf("  %s  block %d  [%s]  batch %s\n", tx.TxHash, tx.BlockNumber, tx.Status, tx.BatchID)
	}
	fmt.Printf("\n%d alert hashes anchored.\n", len(txs))
}
