package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zombor/trip-ledger/internal/photo"
	"github.com/zombor/trip-ledger/internal/receipt"
	"github.com/zombor/trip-ledger/internal/scanning"
)

// Store backends
const (
	StoreCSV  = "csv"
	StoreBolt = "bolt"
)

// Config holds every setting the CLI commands need
type Config struct {
	DataDir  string `validate:"required"`
	PhotoDir string `validate:"required"`
	CacheDir string `validate:"required"`

	Store        string `validate:"oneof=csv bolt"`
	BoltPath     string `validate:"required_if=Store bolt"`
	KeywordsFile string `validate:"omitempty,file"`

	MaxImageSize    int    `validate:"gte=0"`
	DefaultCurrency string `validate:"required,currency"`

	GoogleMapsAPIKey string
	Region           string

	Port     int    `validate:"gte=1,lte=65535"`
	AuthUser string `validate:"required_with=AuthPass"`
	AuthPass string `validate:"required_with=AuthUser"`

	Extraction Extraction
}

// Extraction configures the model backend. It is validated separately
// because only the commands that extract need credentials.
type Extraction struct {
	Provider       string        `validate:"oneof=gemini huggingface ollama"`
	TargetLanguage string        `validate:"required"`
	Timeout        time.Duration `validate:"gt=0"`

	GeminiAPIKey string `validate:"required_if=Provider gemini"`
	GeminiModel  string

	HuggingFaceToken string `validate:"required_if=Provider huggingface"`
	HuggingFaceModel string
	HuggingFaceURL   string `validate:"omitempty,url"`

	OllamaURL   string `validate:"omitempty,url"`
	OllamaModel string
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		DataDir:         "data",
		PhotoDir:        filepath.Join("data", "photos"),
		CacheDir:        filepath.Join("data", "cache"),
		Store:           StoreCSV,
		BoltPath:        filepath.Join("data", "trip-ledger.db"),
		MaxImageSize:    photo.DefaultMaxSize,
		DefaultCurrency: string(receipt.JPY),
		Region:          "japan",
		Port:            8080,
		Extraction: Extraction{
			Provider:       string(scanning.ProviderGemini),
			TargetLanguage: scanning.DefaultTargetLanguage,
			Timeout:        scanning.DefaultTimeout,
			GeminiModel:    scanning.DefaultGeminiModel,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		_, ok := receipt.ParseCurrency(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks everything except the extraction backend
func (c Config) Validate() error {
	return describe(validate.StructExcept(c, "Extraction"))
}

// ValidateExtraction checks that the selected backend is usable
func (c Config) ValidateExtraction() error {
	return describe(validate.Struct(c.Extraction))
}

// describe turns validator output into one readable error
func describe(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "currency":
		return fmt.Sprintf("%s %q is not a supported currency", fe.Field(), fe.Value())
	case "file":
		return fmt.Sprintf("%s %q does not exist", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// ProcessedCachePath is the processing cache document
func (c Config) ProcessedCachePath() string {
	return filepath.Join(c.CacheDir, "processed.json")
}

// GeocodingCachePath is the geocoding cache document
func (c Config) GeocodingCachePath() string {
	return filepath.Join(c.CacheDir, "geocoding.json")
}

// ScanningOptions converts the extraction settings for scanning.New
func (c Config) ScanningOptions() scanning.Options {
	e := c.Extraction
	return scanning.Options{
		Provider:         scanning.Provider(e.Provider),
		TargetLanguage:   e.TargetLanguage,
		Timeout:          e.Timeout,
		GeminiAPIKey:     e.GeminiAPIKey,
		GeminiModel:      e.GeminiModel,
		HuggingFaceToken: e.HuggingFaceToken,
		HuggingFaceModel: e.HuggingFaceModel,
		HuggingFaceURL:   e.HuggingFaceURL,
		OllamaURL:        e.OllamaURL,
		OllamaModel:      e.OllamaModel,
	}
}

// Currency returns DefaultCurrency as a receipt.Currency
func (c Config) Currency() receipt.Currency {
	cur, _ := receipt.ParseCurrency(c.DefaultCurrency)
	return cur
}
