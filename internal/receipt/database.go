package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptsBucket = "receipts"
	itemsBucket    = "items"
)

// BoltStore implements the Store interface using BoltDB.
// Items are keyed by item ID so a receipt's items share the "{id}_item_" prefix.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(receiptsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(itemsBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func itemPrefix(receiptID string) []byte {
	return []byte(receiptID + "_item_")
}

// SaveReceipt replaces the receipt and its items
func (b *BoltStore) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteItems(tx, receipt.ID); err != nil {
			return err
		}
		if err := putItems(tx, receipt.Items); err != nil {
			return err
		}
		return putReceipt(tx, receipt)
	})
}

// LoadReceipts returns every stored receipt without items, ordered by timestamp
func (b *BoltStore) LoadReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptsBucket)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortReceipts(receipts)
	return receipts, nil
}

// LoadItems returns every stored item
func (b *BoltStore) LoadItems() ([]Item, error) {
	items := make([]Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemsBucket)).ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// GetReceipt retrieves a receipt with its items
func (b *BoltStore) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		receipt, err = getReceipt(tx, id)
		if err != nil {
			return err
		}
		receipt.Items, err = itemsOf(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetItemsByReceipt returns the items of one receipt in ID order
func (b *BoltStore) GetItemsByReceipt(id string) ([]Item, error) {
	var items []Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		items, err = itemsOf(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateReceipt changes the non-nil fields of update
func (b *BoltStore) UpdateReceipt(id string, update ReceiptUpdate) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		receipt, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		update.apply(receipt)
		return putReceipt(tx, receipt)
	})
}

// UpdateItems replaces a receipt's items and recalculates its total
func (b *BoltStore) UpdateItems(id string, items []Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		receipt, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		prepared, total := prepareItems(id, items)
		if err := deleteItems(tx, id); err != nil {
			return err
		}
		if err := putItems(tx, prepared); err != nil {
			return err
		}
		receipt.Total = total
		return putReceipt(tx, receipt)
	})
}

// DeleteReceipt removes a receipt and its items
func (b *BoltStore) DeleteReceipt(id string) (bool, error) {
	deleted := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		if err := deleteItems(tx, id); err != nil {
			return err
		}
		deleted = true
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// FindDuplicates groups receipts sharing date, time and total
func (b *BoltStore) FindDuplicates() (map[string][]string, error) {
	receipts, err := b.LoadReceipts()
	if err != nil {
		return nil, err
	}
	return findDuplicates(receipts), nil
}

// Stats summarizes the ledger
func (b *BoltStore) Stats() (*LedgerStats, error) {
	receipts, err := b.LoadReceipts()
	if err != nil {
		return nil, err
	}
	items, err := b.LoadItems()
	if err != nil {
		return nil, err
	}
	return computeStats(receipts, items), nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func getReceipt(tx *bbolt.Tx, id string) (*Receipt, error) {
	data := tx.Bucket([]byte(receiptsBucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
	}
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return &receipt, nil
}

func putReceipt(tx *bbolt.Tx, receipt *Receipt) error {
	stored := *receipt
	stored.Items = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return tx.Bucket([]byte(receiptsBucket)).Put([]byte(receipt.ID), data)
}

func putItems(tx *bbolt.Tx, items []Item) error {
	bucket := tx.Bucket([]byte(itemsBucket))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		if err := bucket.Put([]byte(item.ID), data); err != nil {
			return err
		}
	}
	return nil
}

func itemsOf(tx *bbolt.Tx, receiptID string) ([]Item, error) {
	items := make([]Item, 0)
	prefix := itemPrefix(receiptID)
	c := tx.Bucket([]byte(itemsBucket)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var item Item
		if err := json.Unmarshal(v, &item); err != nil {
			return nil, fmt.Errorf("unmarshaling item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

func deleteItems(tx *bbolt.Tx, receiptID string) error {
	prefix := itemPrefix(receiptID)
	bucket := tx.Bucket([]byte(itemsBucket))
	var keys [][]byte
	c := bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
