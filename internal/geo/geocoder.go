package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/trip-ledger/internal/receipt"
)

const (
	// DefaultBaseURL is the Google Maps Geocoding endpoint
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

	// DefaultRegion biases lookups when the caller gives none
	DefaultRegion = "japan"

	defaultTimeout = 10 * time.Second
)

// regions maps common country names to the ccTLD the API expects
var regions = map[string]string{
	"japan":  "jp",
	"taiwan": "tw",
	"korea":  "kr",
	"us":     "us",
	"usa":    "us",
}

// Geocoder turns addresses and place names into coordinates
type Geocoder struct {
	apiKey  string
	baseURL string
	client  *http.Client
	cache   *Cache
}

// NewGeocoder creates a Geocoder. An empty baseURL uses DefaultBaseURL.
// Without an API key only cached answers are returned.
func NewGeocoder(apiKey, baseURL string, cache *Cache) *Geocoder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Geocoder{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		cache:   cache,
	}
}

type apiResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		PlaceID          string `json:"place_id"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

// Geocode looks up query, optionally biased to region ("japan", "tw", ...).
// A nil location with a nil error means nothing was found or no API key is set.
func (g *Geocoder) Geocode(ctx context.Context, query, region string) (*receipt.GeoLocation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if loc, ok := g.cache.Get(query); ok {
		return loc, nil
	}
	if g.apiKey == "" {
		return nil, nil
	}

	loc, err := g.lookup(ctx, query, region)
	if err != nil || loc == nil {
		return nil, err
	}
	if err := g.cache.Set(query, *loc); err != nil {
		slog.Warn("Failed to save geocoding cache", "error", err)
	}
	return loc, nil
}

func (g *Geocoder) lookup(ctx context.Context, query, region string) (*receipt.GeoLocation, error) {
	params := url.Values{}
	params.Set("address", query)
	params.Set("key", g.apiKey)
	if region != "" {
		if code, ok := regions[strings.ToLower(region)]; ok {
			region = code
		}
		params.Set("region", region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating geocoding request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling geocoding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API returned status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding geocoding response: %w", err)
	}
	if body.Status != "OK" || len(body.Results) == 0 {
		slog.Debug("No geocoding result", "query", query, "status", body.Status, "message", body.ErrorMessage)
		return nil, nil
	}

	first := body.Results[0]
	return &receipt.GeoLocation{
		Latitude:         first.Geometry.Location.Lat,
		Longitude:        first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
		PlaceID:          first.PlaceID,
	}, nil
}

// EnrichReceipts geocodes every stored receipt without a location, using
// its address or, failing that, its store name. It returns how many
// receipts were updated. Lookup errors are logged and skipped.
func (g *Geocoder) EnrichReceipts(ctx context.Context, store receipt.Store, region string) (int, error) {
	receipts, err := store.LoadReceipts()
	if err != nil {
		return 0, fmt.Errorf("loading receipts: %w", err)
	}

	updated := 0
	for _, r := range receipts {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if r.Location != nil {
			continue
		}

		query := r.StoreAddress
		if strings.TrimSpace(query) == "" {
			query = r.StoreName
		}
		if strings.TrimSpace(query) == "" {
			continue
		}

		loc, err := g.Geocode(ctx, query, region)
		if err != nil {
			slog.Error("Geocoding failed", "receipt_id", r.ID, "query", query, "error", err)
			continue
		}
		if loc == nil {
			continue
		}

		if err := store.UpdateReceipt(r.ID, receipt.ReceiptUpdate{Location: loc}); err != nil {
			return updated, fmt.Errorf("updating receipt %s: %w", r.ID, err)
		}
		slog.Info("Geocoded receipt", "receipt_id", r.ID, "latitude", loc.Latitude, "longitude", loc.Longitude)
		updated++
	}
	return updated, nil
}
