package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// CacheStats counts cache entries by status
type CacheStats struct {
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
	TotalCount   int `json:"total_count"`
}

// ProcessingCache remembers which photos, by content hash, were already processed.
// The whole cache is one JSON document that is rewritten on every change.
// It is safe for concurrent use; entries are replaced, never mutated.
type ProcessingCache struct {
	mu         sync.Mutex
	path       string
	entries    map[string]*CacheEntry
	timeSource TimeSource
}

// NewProcessingCache loads the cache at path. A missing file yields an empty
// cache; an unreadable one is logged and also treated as empty.
func NewProcessingCache(path string) *ProcessingCache {
	return NewProcessingCacheWithClock(path, &defaultTimeSource{})
}

// NewProcessingCacheWithClock is NewProcessingCache with a custom time source
func NewProcessingCacheWithClock(path string, timeSrc TimeSource) *ProcessingCache {
	c := &ProcessingCache{
		path:       path,
		entries:    make(map[string]*CacheEntry),
		timeSource: timeSrc,
	}
	c.load()
	return c
}

func (c *ProcessingCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read processing cache", "path", c.path, "error", err)
		}
		return
	}
	entries := make(map[string]*CacheEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("Failed to load processing cache", "path", c.path, "error", err)
		return
	}
	for hash, e := range entries {
		if e == nil {
			slog.Warn("Dropping empty processing cache entry", "hash", hash)
			delete(entries, hash)
		}
	}
	if entries != nil {
		c.entries = entries
	}
}

// save writes the cache; callers hold mu
func (c *ProcessingCache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.entries); err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	if err := os.WriteFile(c.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// IsProcessed reports whether the photo was processed successfully before
func (c *ProcessingCache) IsProcessed(fileHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fileHash]
	return ok && e.Status == StatusSuccess
}

// Entry returns the entry for fileHash, if any
func (c *ProcessingCache) Entry(fileHash string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fileHash]
	return e, ok
}

// AddSuccess records a successful extraction
func (c *ProcessingCache) AddSuccess(fileHash, sourceImage, receiptID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fileHash] = &CacheEntry{
		FileHash:    fileHash,
		SourceImage: sourceImage,
		ProcessedAt: c.timeSource.Now(),
		Status:      StatusSuccess,
		ReceiptID:   receiptID,
	}
	return c.save()
}

// AddFailure records a failed extraction so it can be retried later
func (c *ProcessingCache) AddFailure(fileHash, sourceImage, errorMessage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fileHash] = &CacheEntry{
		FileHash:     fileHash,
		SourceImage:  sourceImage,
		ProcessedAt:  c.timeSource.Now(),
		Status:       StatusFailed,
		ErrorMessage: errorMessage,
	}
	return c.save()
}

// Remove deletes an entry and reports whether it existed
func (c *ProcessingCache) Remove(fileHash string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[fileHash]; !ok {
		return false, nil
	}
	delete(c.entries, fileHash)
	return true, c.save()
}

// Clear drops every entry
func (c *ProcessingCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CacheEntry)
	return c.save()
}

// Stats counts entries by status
func (c *ProcessingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s CacheStats
	for _, e := range c.entries {
		switch e.Status {
		case StatusSuccess:
			s.SuccessCount++
		case StatusFailed:
			s.FailedCount++
		}
	}
	s.TotalCount = len(c.entries)
	return s
}

// Processed lists successful entries, oldest first
func (c *ProcessingCache) Processed() []*CacheEntry {
	return c.byStatus(StatusSuccess)
}

// Failed lists failed entries, oldest first
func (c *ProcessingCache) Failed() []*CacheEntry {
	return c.byStatus(StatusFailed)
}

func (c *ProcessingCache) byStatus(status CacheStatus) []*CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*CacheEntry, 0)
	for _, e := range c.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].FileHash < out[j].FileHash
		}
		return out[i].ProcessedAt.Before(out[j].ProcessedAt)
	})
	return out
}
