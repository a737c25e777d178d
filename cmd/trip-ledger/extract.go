package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peterbourgon/ff/v4"
	"github.com/schollz/progressbar/v3"
)

func newExtractCommand(a *app, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("extract").SetParent(parent)
	file := fs.StringLong("file", "", "process a single photo instead of the photo directory")
	noProgress := fs.BoolLong("no-progress", "hide the progress bar")

	return &ff.Command{
		Name:      "extract",
		Usage:     "trip-ledger extract [--file PATH]",
		ShortHelp: "extract receipts from new photos",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			p, err := a.newPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			if *file != "" {
				return a.extractFile(ctx, p, *file)
			}
			return a.extractDirectory(ctx, p, !*noProgress)
		},
	}
}

func (a *app) extractFile(ctx context.Context, p *pipeline, path string) error {
	result := p.service.ProcessImage(ctx, path)
	if result.Receipt != nil {
		if err := p.store.SaveReceipt(result.Receipt); err != nil {
			if _, cacheErr := p.service.RemoveCacheEntry(result.FileHash); cacheErr != nil {
				slog.Warn("Failed to drop cache entry", "hash", result.FileHash, "error", cacheErr)
			}
			return fmt.Errorf("saving receipt: %w", err)
		}
	}
	printResult(a.stdout, result)
	if !result.Success {
		return fmt.Errorf("extraction failed for %s", path)
	}
	return nil
}

func (a *app) extractDirectory(ctx context.Context, p *pipeline, showProgress bool) error {
	var bar *progressbar.ProgressBar
	progress := func(current, total int, filename string) {
		if !showProgress {
			return
		}
		if bar == nil {
			bar = newProgressBar(total)
		}
		bar.Describe(filename)
		_ = bar.Set(current - 1)
	}

	summary, err := p.service.ProcessDirectory(ctx, a.cfg.PhotoDir, progress)
	if bar != nil {
		_ = bar.Finish()
	}
	if summary != nil {
		for _, r := range summary.Results {
			printResult(a.stdout, r)
		}
		printSummary(a.stdout, summary)
	}
	return err
}

