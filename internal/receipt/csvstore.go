package receipt

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/trip-ledger/internal/category"
)

const timestampLayout = "2006-01-02T15:04:05"

var receiptColumns = []string{
	"receipt_id", "timestamp", "date", "time", "store_name", "store_name_translated",
	"store_address", "latitude", "longitude", "subtotal", "tax", "total", "currency",
	"original_language", "source_image", "processed_at", "notes",
}

var itemColumns = []string{
	"item_id", "receipt_id", "name", "name_translated", "quantity",
	"unit_price", "total_price", "category", "subcategory",
}

// CSVStore implements the Store interface with two CSV files,
// receipts.csv and items.csv, rewritten in full on every change
type CSVStore struct {
	receiptsPath string
	itemsPath    string
}

// NewCSVStore creates a CSVStore keeping its files in dataDir
func NewCSVStore(dataDir string) (*CSVStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &CSVStore{
		receiptsPath: filepath.Join(dataDir, "receipts.csv"),
		itemsPath:    filepath.Join(dataDir, "items.csv"),
	}, nil
}

// SaveReceipt replaces the receipt and its items
func (c *CSVStore) SaveReceipt(receipt *Receipt) error {
	receipts, err := c.LoadReceipts()
	if err != nil {
		return err
	}
	items, err := c.LoadItems()
	if err != nil {
		return err
	}

	receipts = append(withoutReceipt(receipts, receipt.ID), receipt)
	items = append(withoutItemsOf(items, receipt.ID), receipt.Items...)

	if err := c.writeReceipts(receipts); err != nil {
		return err
	}
	return c.writeItems(items)
}

// LoadReceipts returns every stored receipt without items
func (c *CSVStore) LoadReceipts() ([]*Receipt, error) {
	rows := readTable(c.receiptsPath)
	receipts := make([]*Receipt, 0, len(rows))
	for _, row := range rows {
		receipts = append(receipts, rowToReceipt(row))
	}
	return receipts, nil
}

// LoadItems returns every stored item
func (c *CSVStore) LoadItems() ([]Item, error) {
	rows := readTable(c.itemsPath)
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, rowToItem(row))
	}
	return items, nil
}

// GetReceipt returns a receipt with its items
func (c *CSVStore) GetReceipt(id string) (*Receipt, error) {
	receipts, err := c.LoadReceipts()
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		if r.ID == id {
			items, err := c.GetItemsByReceipt(id)
			if err != nil {
				return nil, err
			}
			r.Items = items
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
}

// GetItemsByReceipt returns the items of one receipt in stored order
func (c *CSVStore) GetItemsByReceipt(id string) ([]Item, error) {
	items, err := c.LoadItems()
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0)
	for _, it := range items {
		if it.ReceiptID == id {
			out = append(out, it)
		}
	}
	return out, nil
}

// UpdateReceipt changes the non-nil fields of update
func (c *CSVStore) UpdateReceipt(id string, update ReceiptUpdate) error {
	receipts, err := c.LoadReceipts()
	if err != nil {
		return err
	}
	for _, r := range receipts {
		if r.ID == id {
			update.apply(r)
			return c.writeReceipts(receipts)
		}
	}
	return fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
}

// UpdateItems replaces a receipt's items and recalculates its total
func (c *CSVStore) UpdateItems(id string, newItems []Item) error {
	receipts, err := c.LoadReceipts()
	if err != nil {
		return err
	}
	var target *Receipt
	for _, r := range receipts {
		if r.ID == id {
			target = r
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
	}

	items, err := c.LoadItems()
	if err != nil {
		return err
	}
	prepared, total := prepareItems(id, newItems)
	if err := c.writeItems(append(withoutItemsOf(items, id), prepared...)); err != nil {
		return err
	}

	target.Total = total
	return c.writeReceipts(receipts)
}

// DeleteReceipt removes a receipt and its items
func (c *CSVStore) DeleteReceipt(id string) (bool, error) {
	receipts, err := c.LoadReceipts()
	if err != nil {
		return false, err
	}
	remaining := withoutReceipt(receipts, id)
	if len(remaining) == len(receipts) {
		return false, nil
	}
	items, err := c.LoadItems()
	if err != nil {
		return false, err
	}

	if err := c.writeReceipts(remaining); err != nil {
		return false, err
	}
	if err := c.writeItems(withoutItemsOf(items, id)); err != nil {
		return false, err
	}
	return true, nil
}

// FindDuplicates groups receipts sharing date, time and total
func (c *CSVStore) FindDuplicates() (map[string][]string, error) {
	receipts, err := c.LoadReceipts()
	if err != nil {
		return nil, err
	}
	return findDuplicates(receipts), nil
}

// Stats summarizes the ledger
func (c *CSVStore) Stats() (*LedgerStats, error) {
	receipts, err := c.LoadReceipts()
	if err != nil {
		return nil, err
	}
	items, err := c.LoadItems()
	if err != nil {
		return nil, err
	}
	return computeStats(receipts, items), nil
}

// Close is a no-op
func (c *CSVStore) Close() error {
	return nil
}

func (c *CSVStore) writeReceipts(receipts []*Receipt) error {
	rows := make([][]string, 0, len(receipts))
	for _, r := range receipts {
		rows = append(rows, receiptToRow(r))
	}
	return writeTable(c.receiptsPath, receiptColumns, rows)
}

func (c *CSVStore) writeItems(items []Item) error {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, itemToRow(it))
	}
	return writeTable(c.itemsPath, itemColumns, rows)
}

func withoutReceipt(receipts []*Receipt, id string) []*Receipt {
	out := make([]*Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

func withoutItemsOf(items []Item, receiptID string) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ReceiptID != receiptID {
			out = append(out, it)
		}
	}
	return out
}

// readTable reads a CSV file into header-keyed rows.
// Missing or malformed files read as empty.
func readTable(path string) []map[string]string {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to open table", "path", path, "error", err)
		}
		return nil
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		slog.Warn("Failed to parse table", "path", path, "error", err)
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func writeTable(path string, columns []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func receiptToRow(r *Receipt) []string {
	var lat, lng string
	if r.Location != nil {
		lat = strconv.FormatFloat(r.Location.Latitude, 'f', -1, 64)
		lng = strconv.FormatFloat(r.Location.Longitude, 'f', -1, 64)
	}
	return []string{
		r.ID,
		r.Timestamp.Format(timestampLayout),
		r.Date(),
		r.Time(),
		r.StoreName,
		r.StoreNameTranslated,
		r.StoreAddress,
		lat,
		lng,
		nullDecimalString(r.Subtotal),
		nullDecimalString(r.Tax),
		r.Total.String(),
		string(r.Currency),
		r.OriginalLanguage,
		r.SourceImage,
		r.ProcessedAt.Format(timestampLayout),
		r.Notes,
	}
}

func rowToReceipt(row map[string]string) *Receipt {
	r := &Receipt{
		ID:                  row["receipt_id"],
		Timestamp:           parseStoredTime(row["timestamp"]),
		StoreName:           row["store_name"],
		StoreNameTranslated: row["store_name_translated"],
		StoreAddress:        row["store_address"],
		Subtotal:            parseNullDecimal(row["subtotal"]),
		Tax:                 parseNullDecimal(row["tax"]),
		Total:               parseNullDecimal(row["total"]).Decimal,
		Currency:            Currency(row["currency"]),
		OriginalLanguage:    row["original_language"],
		SourceImage:         row["source_image"],
		ProcessedAt:         parseStoredTime(row["processed_at"]),
		Notes:               row["notes"],
	}
	lat, latErr := strconv.ParseFloat(row["latitude"], 64)
	lng, lngErr := strconv.ParseFloat(row["longitude"], 64)
	if latErr == nil && lngErr == nil {
		r.Location = &GeoLocation{Latitude: lat, Longitude: lng}
	}
	return r
}

func itemToRow(it Item) []string {
	return []string{
		it.ID,
		it.ReceiptID,
		it.Name,
		it.NameTranslated,
		strconv.Itoa(it.Quantity),
		it.UnitPrice.String(),
		it.TotalPrice.String(),
		string(it.Category),
		it.Subcategory,
	}
}

func rowToItem(row map[string]string) Item {
	qty, err := strconv.Atoi(row["quantity"])
	if err != nil || qty < 1 {
		qty = 1
	}
	cat, ok := category.Parse(row["category"])
	if !ok {
		cat = category.Other
	}
	return Item{
		ID:             row["item_id"],
		ReceiptID:      row["receipt_id"],
		Name:           row["name"],
		NameTranslated: row["name_translated"],
		Quantity:       qty,
		UnitPrice:      parseNullDecimal(row["unit_price"]).Decimal,
		TotalPrice:     parseNullDecimal(row["total_price"]).Decimal,
		Category:       cat,
		Subcategory:    row["subcategory"],
	}
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func parseNullDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseStoredTime(s string) time.Time {
	for _, layout := range []string{timestampLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
