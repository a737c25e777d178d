package receipt

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Store defines the interface for ledger persistence.
// Receipts returned by LoadReceipts carry no items; GetReceipt attaches them.
type Store interface {
	// SaveReceipt replaces any receipt with the same ID together with its items
	SaveReceipt(receipt *Receipt) error

	LoadReceipts() ([]*Receipt, error)
	LoadItems() ([]Item, error)

	// GetReceipt returns ErrReceiptNotFound for unknown IDs
	GetReceipt(id string) (*Receipt, error)
	GetItemsByReceipt(id string) ([]Item, error)

	UpdateReceipt(id string, update ReceiptUpdate) error

	// UpdateItems replaces the items of a receipt and sets its total to their sum
	UpdateItems(id string, items []Item) error

	// DeleteReceipt reports whether a receipt was removed
	DeleteReceipt(id string) (bool, error)

	FindDuplicates() (map[string][]string, error)
	Stats() (*LedgerStats, error)

	Close() error
}

// duplicateKey groups receipts with the same date, minute and total
func duplicateKey(r *Receipt) string {
	return fmt.Sprintf("%s_%s_%s", r.Date(), r.Time(), r.Total.StringFixed(2))
}

func findDuplicates(receipts []*Receipt) map[string][]string {
	groups := make(map[string][]string)
	for _, r := range receipts {
		key := duplicateKey(r)
		groups[key] = append(groups[key], r.ID)
	}
	for key, ids := range groups {
		if len(ids) < 2 {
			delete(groups, key)
		}
	}
	return groups
}

func computeStats(receipts []*Receipt, items []Item) *LedgerStats {
	stats := &LedgerStats{
		ReceiptCount:       len(receipts),
		ItemCount:          len(items),
		TotalSpending:      decimal.Zero,
		Currencies:         []Currency{},
		SpendingByCategory: make(map[string]decimal.Decimal),
		DailySpending:      make(map[string]decimal.Decimal),
	}

	seen := make(map[Currency]bool)
	for _, r := range receipts {
		stats.TotalSpending = stats.TotalSpending.Add(r.Total)
		stats.DailySpending[r.Date()] = stats.DailySpending[r.Date()].Add(r.Total)
		if !seen[r.Currency] {
			seen[r.Currency] = true
			stats.Currencies = append(stats.Currencies, r.Currency)
		}
	}
	for _, it := range items {
		key := string(it.Category)
		stats.SpendingByCategory[key] = stats.SpendingByCategory[key].Add(it.TotalPrice)
	}
	return stats
}

// prepareItems assigns item IDs in order, clamps quantities and recomputes
// line totals. It returns the sum of the line totals.
func prepareItems(receiptID string, items []Item) ([]Item, decimal.Decimal) {
	out := make([]Item, len(items))
	total := decimal.Zero
	for i, it := range items {
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		it.ID = ItemID(receiptID, i)
		it.ReceiptID = receiptID
		it.TotalPrice = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(it.TotalPrice)
		out[i] = it
	}
	return out, total
}

func sortReceipts(receipts []*Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].Timestamp.Before(receipts[j].Timestamp)
	})
}
