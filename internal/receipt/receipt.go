package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/trip-ledger/internal/category"
)

// ErrReceiptNotFound is returned when no receipt has the requested ID
var ErrReceiptNotFound = errors.New("receipt not found")

// Currency is an ISO 4217 code the ledger understands
type Currency string

const (
	JPY Currency = "JPY"
	TWD Currency = "TWD"
	USD Currency = "USD"
	EUR Currency = "EUR"
	KRW Currency = "KRW"
	CNY Currency = "CNY"
	GBP Currency = "GBP"
	HKD Currency = "HKD"
)

// Currencies lists every supported currency
var Currencies = []Currency{JPY, TWD, USD, EUR, KRW, CNY, GBP, HKD}

// ParseCurrency maps a code such as "jpy" to its Currency
func ParseCurrency(s string) (Currency, bool) {
	code := Currency(strings.ToUpper(strings.TrimSpace(s)))
	for _, c := range Currencies {
		if c == code {
			return c, true
		}
	}
	return "", false
}

// GeoLocation is a geocoded store position
type GeoLocation struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	PlaceID          string  `json:"place_id,omitempty"`
}

// Item is a single line on a receipt
type Item struct {
	ID             string            `json:"item_id"`
	ReceiptID      string            `json:"receipt_id"`
	Name           string            `json:"name"`
	NameTranslated string            `json:"name_translated,omitempty"`
	Quantity       int               `json:"quantity"`
	UnitPrice      decimal.Decimal   `json:"unit_price"`
	TotalPrice     decimal.Decimal   `json:"total_price"`
	Category       category.Category `json:"category"`
	Subcategory    string            `json:"subcategory,omitempty"`
}

// Receipt represents one purchase read from a photo
type Receipt struct {
	ID                  string              `json:"receipt_id"`
	Timestamp           time.Time           `json:"timestamp"`
	StoreName           string              `json:"store_name"`
	StoreNameTranslated string              `json:"store_name_translated,omitempty"`
	StoreAddress        string              `json:"store_address,omitempty"`
	Location            *GeoLocation        `json:"location,omitempty"`
	Items               []Item              `json:"items"`
	Subtotal            decimal.NullDecimal `json:"subtotal"`
	Tax                 decimal.NullDecimal `json:"tax"`
	Total               decimal.Decimal     `json:"total"`
	Currency            Currency            `json:"currency"`
	OriginalLanguage    string              `json:"original_language"`
	SourceImage         string              `json:"source_image"`
	ProcessedAt         time.Time           `json:"processed_at"`
	Notes               string              `json:"notes,omitempty"`
}

// ItemCount is the sum of item quantities
func (r *Receipt) ItemCount() int {
	n := 0
	for _, it := range r.Items {
		n += it.Quantity
	}
	return n
}

// Date returns the purchase date as YYYY-MM-DD
func (r *Receipt) Date() string {
	return r.Timestamp.Format("2006-01-02")
}

// Time returns the purchase time as HH:MM
func (r *Receipt) Time() string {
	return r.Timestamp.Format("15:04")
}

// ReceiptIDFromHash derives a receipt ID from the SHA-256 of its photo
func ReceiptIDFromHash(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}

// ItemID builds the ID of the n-th (zero-based) item of a receipt
func ItemID(receiptID string, n int) string {
	return fmt.Sprintf("%s_item_%03d", receiptID, n)
}

// CacheStatus is the outcome recorded for a processed photo
type CacheStatus string

const (
	StatusSuccess CacheStatus = "success"
	StatusFailed  CacheStatus = "failed"
)

// CacheEntry records what happened the last time a photo was processed
type CacheEntry struct {
	FileHash     string      `json:"file_hash"`
	SourceImage  string      `json:"source_image"`
	ProcessedAt  time.Time   `json:"processed_at"`
	Status       CacheStatus `json:"status"`
	ReceiptID    string      `json:"receipt_id,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// ProcessingResult is the outcome of running one photo through the pipeline
type ProcessingResult struct {
	SourceImage      string   `json:"source_image"`
	FileHash         string   `json:"file_hash,omitempty"`
	Success          bool     `json:"success"`
	Cached           bool     `json:"cached"`
	Receipt          *Receipt `json:"receipt,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

// Status is "cached", "success" or "failed"
func (p *ProcessingResult) Status() string {
	switch {
	case p.Cached:
		return "cached"
	case p.Success:
		return "success"
	default:
		return "failed"
	}
}

// BatchSummary collects the results of one directory run
type BatchSummary struct {
	RunID   string              `json:"run_id"`
	Results []*ProcessingResult `json:"results"`
	Success int                 `json:"success"`
	Failed  int                 `json:"failed"`
	Skipped int                 `json:"skipped"`
}

func (b *BatchSummary) add(r *ProcessingResult) {
	b.Results = append(b.Results, r)
	switch r.Status() {
	case "cached":
		b.Skipped++
	case "success":
		b.Success++
	default:
		b.Failed++
	}
}

// ReceiptUpdate holds the editable receipt fields; nil fields are left alone
type ReceiptUpdate struct {
	StoreName           *string          `json:"store_name"`
	StoreNameTranslated *string          `json:"store_name_translated"`
	StoreAddress        *string          `json:"store_address"`
	Timestamp           *time.Time       `json:"timestamp"`
	Subtotal            *decimal.Decimal `json:"subtotal"`
	Tax                 *decimal.Decimal `json:"tax"`
	Total               *decimal.Decimal `json:"total"`
	Currency            *Currency        `json:"currency"`
	Notes               *string          `json:"notes"`
	Location            *GeoLocation     `json:"location"`
}

func (u ReceiptUpdate) apply(r *Receipt) {
	if u.StoreName != nil {
		r.StoreName = *u.StoreName
	}
	if u.StoreNameTranslated != nil {
		r.StoreNameTranslated = *u.StoreNameTranslated
	}
	if u.StoreAddress != nil {
		r.StoreAddress = *u.StoreAddress
	}
	if u.Timestamp != nil {
		r.Timestamp = *u.Timestamp
	}
	if u.Subtotal != nil {
		r.Subtotal = decimal.NewNullDecimal(*u.Subtotal)
	}
	if u.Tax != nil {
		r.Tax = decimal.NewNullDecimal(*u.Tax)
	}
	if u.Total != nil {
		r.Total = *u.Total
	}
	if u.Currency != nil {
		r.Currency = *u.Currency
	}
	if u.Notes != nil {
		r.Notes = *u.Notes
	}
	if u.Location != nil {
		r.Location = u.Location
	}
}

// LedgerStats summarizes the stored ledger
type LedgerStats struct {
	ReceiptCount       int                        `json:"receipt_count"`
	ItemCount          int                        `json:"item_count"`
	TotalSpending      decimal.Decimal            `json:"total_spending"`
	Currencies         []Currency                 `json:"currencies"`
	SpendingByCategory map[string]decimal.Decimal `json:"spending_by_category"`
	DailySpending      map[string]decimal.Decimal `json:"daily_spending"`
}
