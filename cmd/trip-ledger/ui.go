package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/zombor/trip-ledger/internal/receipt"
)

var (
	successColor = color.New(color.FgGreen)
	cachedColor  = color.New(color.FgYellow)
	failedColor  = color.New(color.FgRed)
	headingColor = color.New(color.FgCyan, color.Bold)
)

// newProgressBar draws batch progress on stderr
func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Extracting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// printResult writes one line per photo: ✓ new, ↺ cached, ✗ failed
func printResult(w io.Writer, r *receipt.ProcessingResult) {
	switch r.Status() {
	case "cached":
		cachedColor.Fprintf(w, "↺ %s (cached)\n", r.SourceImage)
	case "success":
		successColor.Fprintf(w, "✓ %s: %s %s %s, %d items (%d ms)\n",
			r.SourceImage, r.Receipt.StoreName, r.Receipt.Total.String(), r.Receipt.Currency, r.Receipt.ItemCount(), r.ProcessingTimeMS)
	default:
		failedColor.Fprintf(w, "✗ %s: %s\n", r.SourceImage, r.ErrorMessage)
	}
}

func printSummary(w io.Writer, s *receipt.BatchSummary) {
	fmt.Fprintln(w)
	headingColor.Fprintln(w, "Summary")
	successColor.Fprintf(w, "  new:     %d\n", s.Success)
	cachedColor.Fprintf(w, "  cached:  %d\n", s.Skipped)
	failedColor.Fprintf(w, "  failed:  %d\n", s.Failed)
}
