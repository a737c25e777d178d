package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v4"
)

func newStatsCommand(a *app, parent *ff.FlagSet) *ff.Command {
	return &ff.Command{
		Name:      "stats",
		Usage:     "trip-ledger stats",
		ShortHelp: "show spending totals",
		Flags:     ff.NewFlagSet("stats").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats()
			if err != nil {
				return err
			}

			headingColor.Fprintln(a.stdout, "Ledger")
			fmt.Fprintf(a.stdout, "  receipts: %d\n", stats.ReceiptCount)
			fmt.Fprintf(a.stdout, "  items:    %d\n", stats.ItemCount)
			fmt.Fprintf(a.stdout, "  total:    %s %v\n", stats.TotalSpending.StringFixed(2), stats.Currencies)

			if len(stats.SpendingByCategory) > 0 {
				headingColor.Fprintln(a.stdout, "By category")
				tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
				for _, name := range sortedKeys(stats.SpendingByCategory) {
					fmt.Fprintf(tw, "  %s\t%s\n", name, stats.SpendingByCategory[name].StringFixed(2))
				}
				tw.Flush()
			}

			if len(stats.DailySpending) > 0 {
				headingColor.Fprintln(a.stdout, "By day")
				tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
				for _, day := range sortedKeys(stats.DailySpending) {
					fmt.Fprintf(tw, "  %s\t%s\n", day, stats.DailySpending[day].StringFixed(2))
				}
				tw.Flush()
			}
			return nil
		},
	}
}

func newDuplicatesCommand(a *app, parent *ff.FlagSet) *ff.Command {
	return &ff.Command{
		Name:      "duplicates",
		Usage:     "trip-ledger duplicates",
		ShortHelp: "list receipts sharing date, time and total",
		Flags:     ff.NewFlagSet("duplicates").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			dups, err := store.FindDuplicates()
			if err != nil {
				return err
			}
			if len(dups) == 0 {
				successColor.Fprintln(a.stdout, "No duplicates")
				return nil
			}
			for _, key := range sortedKeys(dups) {
				cachedColor.Fprintf(a.stdout, "%s\n", key)
				for _, id := range dups[key] {
					fmt.Fprintf(a.stdout, "  %s\n", id)
				}
			}
			return nil
		},
	}
}

func newGeocodeCommand(a *app, parent *ff.FlagSet) *ff.Command {
	return &ff.Command{
		Name:      "geocode",
		Usage:     "trip-ledger geocode",
		ShortHelp: "fill store locations using Google Maps",
		Flags:     ff.NewFlagSet("geocode").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			if a.cfg.GoogleMapsAPIKey == "" {
				cachedColor.Fprintln(a.stdout, "GOOGLE_MAPS_API_KEY is not set; only cached locations will be used")
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			updated, err := a.geocoder().EnrichReceipts(ctx, store, a.cfg.Region)
			if err != nil {
				return err
			}
			successColor.Fprintf(a.stdout, "Geocoded %d receipts\n", updated)
			return nil
		},
	}
}

func newCacheCommand(a *app, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("cache").SetParent(parent)
	clearAll := fs.BoolLong("clear", "forget every processed photo")
	remove := fs.StringLong("remove", "", "forget the photo with this hash")

	return &ff.Command{
		Name:      "cache",
		Usage:     "trip-ledger cache [--clear | --remove HASH]",
		ShortHelp: "inspect or reset the processing cache",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			cache := a.processingCache()

			switch {
			case *clearAll:
				if err := cache.Clear(); err != nil {
					return err
				}
				successColor.Fprintln(a.stdout, "Cache cleared")
				return nil
			case *remove != "":
				removed, err := cache.Remove(*remove)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no cache entry for %s", *remove)
				}
				successColor.Fprintf(a.stdout, "Removed %s\n", *remove)
				return nil
			}

			s := cache.Stats()
			headingColor.Fprintln(a.stdout, "Processing cache")
			fmt.Fprintf(a.stdout, "  success: %d\n  failed:  %d\n  total:   %d\n", s.SuccessCount, s.FailedCount, s.TotalCount)
			for _, e := range cache.Failed() {
				failedColor.Fprintf(a.stdout, "✗ %s %s: %s\n", e.FileHash[:min(12, len(e.FileHash))], e.SourceImage, e.ErrorMessage)
			}
			return nil
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
