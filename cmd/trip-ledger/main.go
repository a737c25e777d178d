package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/trip-ledger/internal/config"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: config.Default(), stdout: os.Stdout}
	root := newRootCommand(a)

	if err := root.Parse(os.Args[1:], ff.WithEnvVars()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	a.setupLogging()
	if err := a.cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root))
			os.Exit(1)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// app carries the parsed configuration into every command
type app struct {
	cfg     config.Config
	verbose bool
	stdout  io.Writer
}

func (a *app) setupLogging() {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newRootCommand builds the command tree with flags bound to a.cfg.
// Flags fall back to environment variables named after them,
// so --gemini-api-key reads GEMINI_API_KEY.
func newRootCommand(a *app) *ff.Command {
	cfg := &a.cfg
	fs := ff.NewFlagSet("trip-ledger")
	fs.StringVar(&cfg.DataDir, 0, "data-dir", cfg.DataDir, "directory holding receipts.csv and items.csv")
	fs.StringVar(&cfg.PhotoDir, 0, "photo-dir", cfg.PhotoDir, "directory of receipt photos")
	fs.StringVar(&cfg.CacheDir, 0, "cache-dir", cfg.CacheDir, "directory for caches and processed images")
	fs.StringVar(&cfg.Store, 0, "store", cfg.Store, "ledger backend: csv or bolt")
	fs.StringVar(&cfg.BoltPath, 0, "bolt-path", cfg.BoltPath, "database file for the bolt backend")
	fs.StringVar(&cfg.KeywordsFile, 0, "keywords", "", "YAML keyword table replacing the built-in one")
	fs.IntVar(&cfg.MaxImageSize, 0, "max-image-size", cfg.MaxImageSize, "longest image side sent to the model, in pixels")
	fs.StringVar(&cfg.DefaultCurrency, 0, "default-currency", cfg.DefaultCurrency, "currency used when the receipt shows none")
	fs.StringVar(&cfg.Extraction.Provider, 0, "extraction-provider", cfg.Extraction.Provider, "gemini, huggingface or ollama")
	fs.StringVar(&cfg.Extraction.TargetLanguage, 0, "primary-language", cfg.Extraction.TargetLanguage, "language for translated names")
	fs.DurationVar(&cfg.Extraction.Timeout, 0, "timeout", cfg.Extraction.Timeout, "HTTP timeout for model calls")
	fs.StringVar(&cfg.Extraction.GeminiAPIKey, 0, "gemini-api-key", "", "Google Gemini API key")
	fs.StringVar(&cfg.Extraction.GeminiModel, 0, "gemini-model", cfg.Extraction.GeminiModel, "Google Gemini model name")
	fs.StringVar(&cfg.Extraction.HuggingFaceToken, 0, "huggingface-token", "", "Hugging Face API token")
	fs.StringVar(&cfg.Extraction.HuggingFaceModel, 0, "huggingface-model", "", "Hugging Face vision model")
	fs.StringVar(&cfg.Extraction.HuggingFaceURL, 0, "huggingface-url", "", "Hugging Face router base URL")
	fs.StringVar(&cfg.Extraction.OllamaURL, 0, "ollama-url", "", "Ollama API base URL")
	fs.StringVar(&cfg.Extraction.OllamaModel, 0, "ollama-model", "", "Ollama vision model")
	fs.StringVar(&cfg.GoogleMapsAPIKey, 0, "google-maps-api-key", "", "Google Maps Geocoding API key")
	fs.StringVar(&cfg.Region, 0, "region", cfg.Region, "region bias for geocoding")
	fs.BoolVar(&a.verbose, 0, "verbose", "debug logging")

	root := &ff.Command{
		Name:      "trip-ledger",
		Usage:     "trip-ledger [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "turn receipt photos into a categorized spending ledger",
		Flags:     fs,
	}
	root.Subcommands = []*ff.Command{
		newExtractCommand(a, fs),
		newServeCommand(a, fs),
		newStatsCommand(a, fs),
		newDuplicatesCommand(a, fs),
		newGeocodeCommand(a, fs),
		newCacheCommand(a, fs),
	}
	return root
}
