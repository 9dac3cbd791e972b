package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cicciopanzer27/mia/roadmap"
)

const summarySymbols = 10

func printSummary(w io.Writer, r *roadmap.Roadmap) {
	fmt.Fprintf(w, "Roadmap: %d symbols, %d open questions, %d cycles, %d reviews\n",
		r.Symbols.Len(), len(r.OpenQuestions), r.Metadata.CyclesCompleted, len(r.PeerReviews))
	if !r.Metadata.LastUpdated.IsZero() {
		fmt.Fprintf(w, "Last updated: %s\n", r.Metadata.LastUpdated.Format(time.RFC3339))
	}

	symbols := r.SortedSymbols()
	if len(symbols) > 0 {
		shown := symbols
		if len(shown) > summarySymbols {
			shown = shown[:summarySymbols]
		}
		line := strings.Join(shown, ", ")
		if rest := len(symbols) - len(shown); rest > 0 {
			line += fmt.Sprintf(" (+%d more)", rest)
		}
		fmt.Fprintf(w, "Symbols: %s\n", line)
	}

	if len(r.OpenQuestions) > 0 {
		fmt.Fprintln(w, "Open questions:")
		for i, q := range r.OpenQuestions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, q)
		}
	}

	if n := len(r.PeerReviews); n > 0 {
		last := r.PeerReviews[n-1]
		fmt.Fprintf(w, "Last review: %s, confidence %.2f\n", last.Reviewer, last.Confidence)
	}
}
