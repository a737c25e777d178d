package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrNotConfigured is returned when a provider is missing its credentials
	ErrNotConfigured = errors.New("provider not configured")
	// ErrNoJSON is returned when no JSON object can be recovered from a model response
	ErrNoJSON = errors.New("no JSON object in model response")
	// ErrEmptyResponse is returned when the model produced no text
	ErrEmptyResponse = errors.New("empty model response")
)

// ExtractionError wraps a provider failure with the provider's name
type ExtractionError struct {
	Provider string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed: %v", e.Provider, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// InvoiceData is the raw structure returned by a vision model.
// Numeric fields stay undecoded so callers can accept numbers or numeric strings.
type InvoiceData struct {
	StoreName           string          `json:"store_name"`
	StoreNameTranslated string          `json:"store_name_translated"`
	StoreAddress        string          `json:"store_address"`
	Timestamp           string          `json:"timestamp"`
	Items               []ItemData      `json:"items"`
	Subtotal            json.RawMessage `json:"subtotal"`
	Tax                 json.RawMessage `json:"tax"`
	Total               json.RawMessage `json:"total"`
	Currency            string          `json:"currency"`
	OriginalLanguage    string          `json:"original_language"`
	Notes               string          `json:"notes"`
}

// ItemData is one line item as returned by the model
type ItemData struct {
	Name           string          `json:"name"`
	NameTranslated string          `json:"name_translated"`
	Quantity       json.RawMessage `json:"quantity"`
	UnitPrice      json.RawMessage `json:"unit_price"`
	TotalPrice     json.RawMessage `json:"total_price"`
	Category       string          `json:"category"`
	Subcategory    string          `json:"subcategory"`
}

// Extractor defines the interface for invoice extraction backends
type Extractor interface {
	// ExtractInvoiceData sends the image at imagePath to the model and returns what it read
	ExtractInvoiceData(ctx context.Context, imagePath string) (*InvoiceData, error)
	// Close releases provider resources
	Close() error
}

var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".heic": "image/heic",
	".heif": "image/heif",
	".webp": "image/webp",
}

func mimeType(path string) string {
	if m, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "image/jpeg"
}
