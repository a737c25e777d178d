package geo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zombor/trip-ledger/internal/receipt"
)

// Cache stores geocoding answers keyed by the lowercased query.
// The whole document is rewritten on every change.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]receipt.GeoLocation
}

// NewCache loads the cache at path. A missing or unreadable file starts empty.
func NewCache(path string) *Cache {
	c := &Cache{path: path, entries: make(map[string]receipt.GeoLocation)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read geocoding cache", "path", path, "error", err)
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil || c.entries == nil {
		slog.Warn("Ignoring corrupt geocoding cache", "path", path, "error", err)
		c.entries = make(map[string]receipt.GeoLocation)
	}
	return c
}

// Get returns the cached location for query
func (c *Cache) Get(query string) (*receipt.GeoLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, ok := c.entries[cacheKey(query)]
	if !ok {
		return nil, false
	}
	return &loc, true
}

// Set stores loc for query and persists the cache
func (c *Cache) Set(query string, loc receipt.GeoLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(query)] = loc
	return c.save()
}

// Len reports the number of cached queries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// save writes the cache; callers hold mu
func (c *Cache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.entries); err != nil {
		return fmt.Errorf("encoding geocoding cache: %w", err)
	}
	if err := os.WriteFile(c.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing geocoding cache: %w", err)
	}
	return nil
}

func cacheKey(query string) string {
	return strings.ToLower(query)
}
