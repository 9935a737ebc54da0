package alert

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/agritrace/kestrel/internal/domain"
)

// WriteReport prints a human-readable alert summary for a scored batch,
// fraud rows first, highest probability on top.
func WriteReport(w io.Writer, results []domain.ScoredRecord) {
	flagged := make([]domain.ScoredRecord, 0, len(results))
	for _, r := range results {
		if r.Prediction == 1 {
			flagged = append(flagged, r)
		}
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].Probability > flagged[j].Probability
	})

	line := strings.Repeat("=", 65)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "  KESTREL - FRAUD ALERT REPORT")
	fmt.Fprintf(w, "  Generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, line)

	if len(flagged) == 0 {
		fmt.Fprintln(w, "  No fraud detected in this batch.")
		return
	}

	fmt.Fprintf(w, "  Total Records Scanned : %d\n", len(results))
	fmt.Fprintf(w, "  Fraud Cases Detected  : %d\n", len(flagged))
	fmt.Fprintf(w, "  Fraud Rate            : %.1f%%\n\n", float64(len(flagged))/float64(len(results))*100)

	for _, r := range flagged {
		rec := r.Record
		fmt.Fprintf(w, "  [%s] Batch: %s\n", r.Level, rec.BatchID)
		fmt.Fprintf(w, "     Product     : %s  |  Producer: %s\n", rec.ProductName, rec.ProducerName)
		fmt.Fprintf(w, "     Quantity    : %.0f units  |  Distributor: %s\n", rec.Quantity, rec.DistributorID)
		fmt.Fprintf(w, "     Location    : %s  ->  %s\n", rec.LastLocation, rec.ExpectedDestination)
		fmt.Fprintf(w, "     Fraud Score : %.3f\n", r.Probability)
		fmt.Fprintf(w, "     Fraud Types : %s\n", strings.Join(r.FraudTypes, ", "))
		fmt.Fprintf(w, "     Timestamp   : %s\n", rec.Timestamp.Format(time.RFC3339))
		fmt.Fprintln(w, "  "+strings.Repeat("-", 62))
	}

	// Per-subtype tally.
	counts := make(map[string]int)
	for _, r := range flagged {
		for _, t := range r.FraudTypes {
			counts[t]++
		}
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})

	fmt.Fprintln(w, "\n  Alert Summary by Fraud Type:")
	for _, t := range types {
		fmt.Fprintf(w, "     %-40s: %d\n", t, counts[t])
	}
	fmt.Fprintln(w, line)
}
