package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/trip-ledger/internal/category"
	"github.com/zombor/trip-ledger/internal/scanning"
)

// ErrUnsupportedFormat is returned for uploads outside the image allow-list
var ErrUnsupportedFormat = errors.New("unsupported image format")

// IDGenerator generates unique IDs for batch runs and uploads
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Preprocessor prepares photos before extraction
type Preprocessor interface {
	IsSupportedFormat(path string) bool
	CalculateHash(path string) (string, error)
	Process(path string) (string, error)
}

// ProgressFunc is called before each image of a batch with a 1-based index
type ProgressFunc func(current, total int, filename string)

// ServiceConfig holds the service's tunables
type ServiceConfig struct {
	DefaultCurrency Currency
}

// Service turns receipt photos into ledger entries
type Service struct {
	cfg          ServiceConfig
	extractor    scanning.Extractor
	preprocessor Preprocessor
	classifier   *category.Classifier
	cache        *ProcessingCache
	store        Store
	photos       PhotoStorage
	idGenerator  IDGenerator
	timeSource   TimeSource

	// ingest serializes photo processing; mu guards the store
	ingest sync.Mutex
	mu     sync.RWMutex
}

// NewService creates a new Service with a UUID generator and the wall clock
func NewService(cfg ServiceConfig, extractor scanning.Extractor, preprocessor Preprocessor, classifier *category.Classifier, cache *ProcessingCache, store Store, photos PhotoStorage) *Service {
	return NewServiceWithDeps(cfg, extractor, preprocessor, classifier, cache, store, photos, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(cfg ServiceConfig, extractor scanning.Extractor, preprocessor Preprocessor, classifier *category.Classifier, cache *ProcessingCache, store Store, photos PhotoStorage, idGen IDGenerator, timeSrc TimeSource) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = JPY
	}
	return &Service{
		cfg:          cfg,
		extractor:    extractor,
		preprocessor: preprocessor,
		classifier:   classifier,
		cache:        cache,
		store:        store,
		photos:       photos,
		idGenerator:  idGen,
		timeSource:   timeSrc,
	}
}

// ProcessImage runs one photo through hashing, the cache, preprocessing and extraction.
// The receipt is not persisted; see ProcessDirectory and UploadReceipt.
func (s *Service) ProcessImage(ctx context.Context, path string) *ProcessingResult {
	start := s.timeSource.Now()
	result := &ProcessingResult{SourceImage: path}

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		result.ErrorMessage = fmt.Sprintf("File not found: %s", path)
		return result
	}
	if !s.preprocessor.IsSupportedFormat(path) {
		result.ErrorMessage = fmt.Sprintf("Unsupported format: %s", filepath.Ext(path))
		return result
	}

	hash, err := s.preprocessor.CalculateHash(path)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	result.FileHash = hash

	if s.cache.IsProcessed(hash) {
		slog.Debug("Skipping cached image", "path", path, "hash", hash)
		result.Success = true
		result.Cached = true
		result.ErrorMessage = "Already processed (cached)"
		return result
	}

	name := filepath.Base(path)
	receipt, err := s.extract(ctx, path, hash)
	if err != nil {
		slog.Error("Failed to extract receipt", "path", path, "hash", hash, "error", err)
		if cacheErr := s.cache.AddFailure(hash, name, err.Error()); cacheErr != nil {
			slog.Warn("Failed to record cache failure", "hash", hash, "error", cacheErr)
		}
		result.ErrorMessage = err.Error()
		result.ProcessingTimeMS = s.timeSource.Now().Sub(start).Milliseconds()
		return result
	}

	if err := s.cache.AddSuccess(hash, name, receipt.ID); err != nil {
		slog.Warn("Failed to record cache success", "hash", hash, "error", err)
	}
	result.Success = true
	result.Receipt = receipt
	result.ProcessingTimeMS = s.timeSource.Now().Sub(start).Milliseconds()
	return result
}

func (s *Service) extract(ctx context.Context, path, hash string) (*Receipt, error) {
	processed, err := s.preprocessor.Process(path)
	if err != nil {
		return nil, fmt.Errorf("preprocessing image: %w", err)
	}
	data, err := s.extractor.ExtractInvoiceData(ctx, processed)
	if err != nil {
		return nil, err
	}
	return s.buildReceipt(data, filepath.Base(path), hash), nil
}

// buildReceipt normalizes model output into a Receipt, filling safe defaults
func (s *Service) buildReceipt(data *scanning.InvoiceData, sourceImage, hash string) *Receipt {
	id := ReceiptIDFromHash(hash)
	now := s.timeSource.Now()

	currency, ok := ParseCurrency(data.Currency)
	if !ok {
		currency = s.cfg.DefaultCurrency
	}

	receipt := &Receipt{
		ID:                  id,
		Timestamp:           s.parseTimestamp(data.Timestamp),
		StoreName:           orDefault(data.StoreName, "Unknown"),
		StoreNameTranslated: strings.TrimSpace(data.StoreNameTranslated),
		StoreAddress:        strings.TrimSpace(data.StoreAddress),
		Subtotal:            parseAmount(data.Subtotal),
		Tax:                 parseAmount(data.Tax),
		Total:               parseAmount(data.Total).Decimal,
		Currency:            currency,
		OriginalLanguage:    orDefault(data.OriginalLanguage, "unknown"),
		SourceImage:         sourceImage,
		ProcessedAt:         now,
		Notes:               strings.TrimSpace(data.Notes),
	}
	if !receipt.Subtotal.Valid {
		receipt.Subtotal = decimal.NewNullDecimal(receipt.Total)
	}

	receipt.Items = make([]Item, 0, len(data.Items))
	for i, raw := range data.Items {
		receipt.Items = append(receipt.Items, s.buildItem(raw, id, i, receipt.StoreName))
	}
	return receipt
}

func (s *Service) buildItem(raw scanning.ItemData, receiptID string, n int, storeName string) Item {
	name := orDefault(raw.Name, "Unknown item")

	cat, ok := category.Parse(raw.Category)
	if !ok {
		cat = s.classifier.Classify(name, storeName)
	}
	sub := strings.TrimSpace(raw.Subcategory)
	if sub == "" {
		sub, _ = s.classifier.Subcategory(name, cat)
	}

	return Item{
		ID:             ItemID(receiptID, n),
		ReceiptID:      receiptID,
		Name:           name,
		NameTranslated: strings.TrimSpace(raw.NameTranslated),
		Quantity:       parseQuantity(raw.Quantity),
		UnitPrice:      parseAmount(raw.UnitPrice).Decimal,
		TotalPrice:     parseAmount(raw.TotalPrice).Decimal,
		Category:       cat,
		Subcategory:    sub,
	}
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
}

// parseTimestamp tries the known layouts in order and falls back to now
func (s *Service) parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t
		}
	}
	return s.timeSource.Now()
}

// parseAmount accepts a JSON number or numeric string; anything else is absent
func parseAmount(raw json.RawMessage) decimal.NullDecimal {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.NullDecimal{}
	}
	if strings.HasPrefix(text, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.NullDecimal{}
		}
		text = strings.TrimSpace(str)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// parseQuantity reads a positive integer, defaulting to 1
func parseQuantity(raw json.RawMessage) int {
	amount := parseAmount(raw)
	if !amount.Valid {
		return 1
	}
	q := amount.Decimal.IntPart()
	if q < 1 || !amount.Decimal.Equal(decimal.NewFromInt(q)) {
		return 1
	}
	return int(q)
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}

// ProcessDirectory processes every supported photo in dir in name order and
// stores new receipts. A receipt that cannot be stored is dropped from the
// cache so the photo is retried on the next run.
func (s *Service) ProcessDirectory(ctx context.Context, dir string, progress ProgressFunc) (*BatchSummary, error) {
	s.ingest.Lock()
	defer s.ingest.Unlock()

	summary := &BatchSummary{RunID: s.idGenerator.Generate(), Results: []*ProcessingResult{}}
	logger := slog.With("run_id", summary.RunID, "dir", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Photo directory does not exist")
			return summary, nil
		}
		return nil, fmt.Errorf("reading photo directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && s.preprocessor.IsSupportedFormat(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	logger.Info("Processing photos", "count", len(files))

	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if progress != nil {
			progress(i+1, len(files), name)
		}

		result := s.ProcessImage(ctx, filepath.Join(dir, name))
		if result.Receipt != nil {
			if err := s.saveReceipt(result.Receipt); err != nil {
				logger.Error("Failed to save receipt", "path", name, "error", err)
				if _, cacheErr := s.cache.Remove(result.FileHash); cacheErr != nil {
					logger.Warn("Failed to drop cache entry", "hash", result.FileHash, "error", cacheErr)
				}
				result.Success = false
				result.Receipt = nil
				result.ErrorMessage = fmt.Sprintf("saving receipt: %v", err)
			}
		}
		summary.add(result)
		logger.Info("Processed photo", "path", name, "status", result.Status(), "ms", result.ProcessingTimeMS)
	}

	logger.Info("Batch complete", "success", summary.Success, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// UploadReceipt stores an uploaded photo, processes it and saves the receipt.
// A photo already in the cache is discarded and the stored receipt returned.
func (s *Service) UploadReceipt(ctx context.Context, filename string, data []byte) (*ProcessingResult, error) {
	if !s.preprocessor.IsSupportedFormat(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	s.ingest.Lock()
	defer s.ingest.Unlock()

	prefix := s.idGenerator.Generate()
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	path, err := s.photos.Save(prefix+"_"+sanitizeFilename(filename), data)
	if err != nil {
		return nil, fmt.Errorf("saving photo: %w", err)
	}
	name := filepath.Base(path)

	result := s.ProcessImage(ctx, path)
	switch {
	case result.Cached:
		s.discardPhoto(name)
		if entry, ok := s.cache.Entry(result.FileHash); ok {
			if existing, err := s.GetReceipt(entry.ReceiptID); err == nil {
				result.Receipt = existing
			}
		}
	case !result.Success:
		s.discardPhoto(name)
	default:
		if err := s.saveReceipt(result.Receipt); err != nil {
			if _, cacheErr := s.cache.Remove(result.FileHash); cacheErr != nil {
				slog.Warn("Failed to drop cache entry", "hash", result.FileHash, "error", cacheErr)
			}
			s.discardPhoto(name)
			return nil, fmt.Errorf("saving receipt: %w", err)
		}
	}
	return result, nil
}

func (s *Service) saveReceipt(r *Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SaveReceipt(r)
}

func (s *Service) discardPhoto(name string) {
	if err := s.photos.Delete(name); err != nil {
		slog.Warn("Failed to delete photo", "filename", name, "error", err)
	}
}

// DateRange restricts ListReceipts; zero bounds are open
type DateRange struct {
	From time.Time
	To   time.Time
}

func (d DateRange) contains(t time.Time) bool {
	if !d.From.IsZero() && t.Before(d.From) {
		return false
	}
	if !d.To.IsZero() && !t.Before(d.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// ListReceipts returns receipts (without items) within the range, oldest first
func (s *Service) ListReceipts(dates DateRange) ([]*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	receipts, err := s.store.LoadReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	out := make([]*Receipt, 0, len(receipts))
	for _, r := range receipts {
		if dates.contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	sortReceipts(out)
	return out, nil
}

// GetReceipt retrieves a receipt with its items
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getReceipt(id)
}

func (s *Service) getReceipt(id string) (*Receipt, error) {
	receipt, err := s.store.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// UpdateReceipt edits receipt fields and returns the updated receipt
func (s *Service) UpdateReceipt(id string, update ReceiptUpdate) (*Receipt, error) {
	if update.Currency != nil {
		c, ok := ParseCurrency(string(*update.Currency))
		if !ok {
			return nil, fmt.Errorf("unknown currency %q", *update.Currency)
		}
		update.Currency = &c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.UpdateReceipt(id, update); err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	return s.getReceipt(id)
}

// UpdateItems replaces a receipt's items; the receipt total becomes their sum
func (s *Service) UpdateItems(id string, items []Item) (*Receipt, error) {
	for i := range items {
		if c, ok := category.Parse(string(items[i].Category)); ok {
			items[i].Category = c
		} else {
			items[i].Category = s.classifier.Classify(items[i].Name, "")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.UpdateItems(id, items); err != nil {
		return nil, fmt.Errorf("updating items: %w", err)
	}
	return s.getReceipt(id)
}

// DeleteReceipt removes a receipt and forgets the photo it came from,
// so the same photo is extracted again if it is added back
func (s *Service) DeleteReceipt(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted, err := s.store.DeleteReceipt(id)
	if err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	if !deleted {
		return fmt.Errorf("deleting receipt: %w: %s", ErrReceiptNotFound, id)
	}
	for _, e := range s.cache.Processed() {
		if e.ReceiptID == id {
			if _, err := s.cache.Remove(e.FileHash); err != nil {
				slog.Warn("Failed to drop cache entry", "hash", e.FileHash, "error", err)
			}
		}
	}
	return nil
}

// GetReceiptPhoto returns the stored photo of a receipt and its content type
func (s *Service) GetReceiptPhoto(id string) ([]byte, string, error) {
	s.mu.RLock()
	receipt, err := s.store.GetReceipt(id)
	s.mu.RUnlock()
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	data, err := s.photos.Get(receipt.SourceImage)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt photo: %w", err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(receipt.SourceImage)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// FindDuplicates returns receipt IDs sharing date, time and total
func (s *Service) FindDuplicates() (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dups, err := s.store.FindDuplicates()
	if err != nil {
		return nil, fmt.Errorf("finding duplicates: %w", err)
	}
	return dups, nil
}

// Stats summarizes the ledger
func (s *Service) Stats() (*LedgerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, err := s.store.Stats()
	if err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return stats, nil
}

// CacheReport is the cache content exposed to callers
type CacheReport struct {
	Stats     CacheStats    `json:"stats"`
	Processed []*CacheEntry `json:"processed"`
	Failed    []*CacheEntry `json:"failed"`
}

// Cache reports the processing cache
func (s *Service) Cache() *CacheReport {
	return &CacheReport{
		Stats:     s.cache.Stats(),
		Processed: s.cache.Processed(),
		Failed:    s.cache.Failed(),
	}
}

// RemoveCacheEntry forgets one photo hash
func (s *Service) RemoveCacheEntry(hash string) (bool, error) {
	return s.cache.Remove(hash)
}

// ClearCache forgets every processed photo
func (s *Service) ClearCache() error {
	return s.cache.Clear()
}
