package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/trip-ledger/internal/category"
	"github.com/zombor/trip-ledger/internal/photo"
	"github.com/zombor/trip-ledger/internal/scanning"
)

func fileHash(path string) string {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var _ = Describe("Service", func() {
	var (
		dir       string
		photosDir string
		extractor *mockExtractor
		cache     *ProcessingCache
		store     Store
		photos    *LocalStorage
		clock     *mockTimeSource
		service   *Service
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		photosDir = filepath.Join(dir, "photos")
		Expect(os.MkdirAll(photosDir, 0755)).To(Succeed())

		extractor = &mockExtractor{data: lawsonInvoice()}
		clock = &mockTimeSource{now: time.Date(2025, 2, 1, 10, 0, 0, 0, time.Local)}
		cache = NewProcessingCacheWithClock(filepath.Join(dir, "cache", "processed.json"), clock)

		var err error
		store, err = NewCSVStore(filepath.Join(dir, "data"))
		Expect(err).NotTo(HaveOccurred())
		photos, err = NewLocalStorage(filepath.Join(dir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(
			ServiceConfig{DefaultCurrency: TWD},
			extractor,
			photo.NewPreprocessor(0, filepath.Join(dir, "cache")),
			category.New(),
			cache,
			store,
			photos,
			&mockIDGenerator{id: "run-0001-abcdef"},
			clock,
		)
	})

	Describe("ProcessImage", func() {
		var (
			path   string
			result *ProcessingResult
		)

		BeforeEach(func() {
			path = filepath.Join(photosDir, "IMG_0001.jpg")
			writeTestPhoto(path, 40)
		})

		JustBeforeEach(func() {
			result = service.ProcessImage(context.Background(), path)
		})

		When("the model reads a convenience store receipt", func() {
			It("succeeds", func() {
				Expect(result.Status()).To(Equal("success"))
				Expect(result.ErrorMessage).To(BeEmpty())
			})

			It("derives the receipt ID from the photo hash", func() {
				Expect(result.FileHash).To(Equal(fileHash(path)))
				Expect(result.Receipt.ID).To(Equal(fileHash(path)[:16]))
			})

			It("builds typed receipt fields", func() {
				r := result.Receipt
				Expect(r.StoreName).To(Equal("LAWSON"))
				Expect(r.StoreNameTranslated).To(Equal("羅森"))
				Expect(r.Timestamp).To(Equal(time.Date(2025, 1, 15, 14, 30, 0, 0, time.Local)))
				Expect(r.Date()).To(Equal("2025-01-15"))
				Expect(r.Time()).To(Equal("14:30"))
				Expect(r.Total.String()).To(Equal("450"))
				Expect(r.Currency).To(Equal(JPY))
				Expect(r.SourceImage).To(Equal("IMG_0001.jpg"))
				Expect(r.ProcessedAt).To(Equal(clock.now))
			})

			It("defaults the subtotal to the total and leaves tax absent", func() {
				Expect(result.Receipt.Subtotal.Valid).To(BeTrue())
				Expect(result.Receipt.Subtotal.Decimal.String()).To(Equal("450"))
				Expect(result.Receipt.Tax.Valid).To(BeFalse())
			})

			It("numbers the items", func() {
				items := result.Receipt.Items
				Expect(items).To(HaveLen(2))
				Expect(items[0].ID).To(Equal(result.Receipt.ID + "_item_000"))
				Expect(items[1].ID).To(Equal(result.Receipt.ID + "_item_001"))
				Expect(items[0].ReceiptID).To(Equal(result.Receipt.ID))
				Expect(items[0].Quantity).To(Equal(2))
				Expect(items[0].UnitPrice.String()).To(Equal("150"))
				Expect(result.Receipt.ItemCount()).To(Equal(3))
			})

			It("records the success in the cache", func() {
				Expect(cache.IsProcessed(result.FileHash)).To(BeTrue())
				entry, _ := cache.Entry(result.FileHash)
				Expect(entry.ReceiptID).To(Equal(result.Receipt.ID))
				Expect(entry.SourceImage).To(Equal("IMG_0001.jpg"))
			})

			It("does not persist the receipt", func() {
				receipts, err := store.LoadReceipts()
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(BeEmpty())
			})
		})

		When("the same photo is processed twice", func() {
			It("returns a cached result without calling the model again", func() {
				again := service.ProcessImage(context.Background(), path)
				Expect(again.Status()).To(Equal("cached"))
				Expect(again.Success).To(BeTrue())
				Expect(again.Receipt).To(BeNil())
				Expect(again.ProcessingTimeMS).To(BeZero())
				Expect(extractor.calls).To(HaveLen(1))
			})
		})

		When("the model omits or invents a category", func() {
			BeforeEach(func() {
				extractor.data = &scanning.InvoiceData{
					StoreName: "LAWSON",
					Total:     json.RawMessage("150"),
					Items: []scanning.ItemData{
						{Name: "おにぎり", UnitPrice: json.RawMessage("150"), TotalPrice: json.RawMessage("150")},
						{Name: "Iced coffee", Category: "snacks"},
					},
				}
			})

			It("classifies from the item name", func() {
				Expect(result.Receipt.Items[0].Category).To(Equal(category.Food))
				Expect(result.Receipt.Items[1].Category).To(Equal(category.Beverage))
			})

			It("fills the subcategory from the keyword table", func() {
				Expect(result.Receipt.Items[0].Subcategory).To(Equal("snack"))
			})
		})

		When("the model returns loose values", func() {
			BeforeEach(func() {
				extractor.data = &scanning.InvoiceData{
					Timestamp: "2025/01/15 09:05",
					Subtotal:  json.RawMessage(`"1,000"`),
					Tax:       json.RawMessage(`"80"`),
					Total:     json.RawMessage(`"1080.50"`),
					Currency:  "XYZ",
					Items: []scanning.ItemData{
						{Quantity: json.RawMessage(`"3"`)},
						{Quantity: json.RawMessage("0")},
						{Quantity: json.RawMessage("2.5")},
					},
				}
			})

			It("parses numeric strings", func() {
				Expect(result.Receipt.Total.String()).To(Equal("1080.5"))
				Expect(result.Receipt.Tax.Decimal.String()).To(Equal("80"))
			})

			It("treats unparsable amounts as absent", func() {
				Expect(result.Receipt.Subtotal.Decimal.String()).To(Equal("1080.5"))
			})

			It("accepts slash dates", func() {
				Expect(result.Receipt.Timestamp).To(Equal(time.Date(2025, 1, 15, 9, 5, 0, 0, time.Local)))
			})

			It("falls back to the configured currency", func() {
				Expect(result.Receipt.Currency).To(Equal(TWD))
			})

			It("uses safe defaults for missing text", func() {
				Expect(result.Receipt.StoreName).To(Equal("Unknown"))
				Expect(result.Receipt.OriginalLanguage).To(Equal("unknown"))
				Expect(result.Receipt.Items[0].Name).To(Equal("Unknown item"))
				Expect(result.Receipt.Items[0].Category).To(Equal(category.Other))
			})

			It("keeps quantities positive integers", func() {
				Expect(result.Receipt.Items[0].Quantity).To(Equal(3))
				Expect(result.Receipt.Items[1].Quantity).To(Equal(1))
				Expect(result.Receipt.Items[2].Quantity).To(Equal(1))
			})
		})

		When("the timestamp and total are unreadable", func() {
			BeforeEach(func() {
				extractor.data = &scanning.InvoiceData{Timestamp: "yesterday", Total: json.RawMessage(`"n/a"`)}
			})

			It("uses now and zero", func() {
				Expect(result.Receipt.Timestamp).To(Equal(clock.now))
				Expect(result.Receipt.Total.IsZero()).To(BeTrue())
				Expect(result.Receipt.Items).To(BeEmpty())
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.err = &scanning.ExtractionError{Provider: "gemini", Err: scanning.ErrNoJSON}
			})

			It("returns a failed result", func() {
				Expect(result.Status()).To(Equal("failed"))
				Expect(result.ErrorMessage).To(ContainSubstring("no JSON object"))
			})

			It("records the failure in the cache", func() {
				entry, ok := cache.Entry(result.FileHash)
				Expect(ok).To(BeTrue())
				Expect(entry.Status).To(Equal(StatusFailed))
				Expect(cache.IsProcessed(result.FileHash)).To(BeFalse())
			})

			It("retries the photo next time", func() {
				extractor.err = nil
				again := service.ProcessImage(context.Background(), path)
				Expect(again.Status()).To(Equal("success"))
				Expect(extractor.calls).To(HaveLen(2))
			})
		})

		When("the file is not a supported image", func() {
			BeforeEach(func() {
				path = filepath.Join(photosDir, "notes.txt")
				Expect(os.WriteFile(path, []byte("hello"), 0644)).To(Succeed())
			})

			It("fails without touching the cache or the model", func() {
				Expect(result.Status()).To(Equal("failed"))
				Expect(result.ErrorMessage).To(Equal("Unsupported format: .txt"))
				Expect(cache.Stats().TotalCount).To(BeZero())
				Expect(extractor.calls).To(BeEmpty())
			})
		})

		When("the file does not exist", func() {
			BeforeEach(func() {
				path = filepath.Join(photosDir, "missing.jpg")
			})

			It("fails without touching the cache", func() {
				Expect(result.Status()).To(Equal("failed"))
				Expect(result.ErrorMessage).To(HavePrefix("File not found"))
				Expect(cache.Stats().TotalCount).To(BeZero())
			})
		})

		When("the photo cannot be decoded", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(path, []byte("not a jpeg"), 0644)).To(Succeed())
			})

			It("caches the failure", func() {
				Expect(result.Status()).To(Equal("failed"))
				Expect(result.ErrorMessage).To(ContainSubstring("preprocessing image"))
				Expect(cache.Stats().FailedCount).To(Equal(1))
				Expect(extractor.calls).To(BeEmpty())
			})
		})
	})

	Describe("ProcessDirectory", func() {
		var (
			summary  *BatchSummary
			err      error
			progress []string
		)

		BeforeEach(func() {
			progress = nil
			writeTestPhoto(filepath.Join(photosDir, "b.jpg"), 30)
			writeTestPhoto(filepath.Join(photosDir, "a.JPG"), 40)
			Expect(os.WriteFile(filepath.Join(photosDir, "notes.txt"), []byte("x"), 0644)).To(Succeed())
			Expect(os.Mkdir(filepath.Join(photosDir, "nested.jpg"), 0755)).To(Succeed())
		})

		JustBeforeEach(func() {
			summary, err = service.ProcessDirectory(context.Background(), photosDir, func(current, total int, name string) {
				progress = append(progress, name)
				Expect(total).To(Equal(2))
			})
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("processes supported files in name order", func() {
			Expect(progress).To(Equal([]string{"a.JPG", "b.jpg"}))
			Expect(summary.RunID).To(Equal("run-0001-abcdef"))
			Expect(summary.Success).To(Equal(2))
			Expect(summary.Results).To(HaveLen(2))
		})

		It("stores the receipts", func() {
			receipts, loadErr := store.LoadReceipts()
			Expect(loadErr).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(2))
			items, loadErr := store.LoadItems()
			Expect(loadErr).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(4))
		})

		It("skips everything on a second run", func() {
			again, runErr := service.ProcessDirectory(context.Background(), photosDir, nil)
			Expect(runErr).NotTo(HaveOccurred())
			Expect(again.Skipped).To(Equal(2))
			Expect(again.Success).To(BeZero())
			Expect(extractor.calls).To(HaveLen(2))
		})

		When("the store rejects the receipt", func() {
			BeforeEach(func() {
				store = &failingStore{Store: store, err: errors.New("disk full")}
			})

			It("reports the images as failed", func() {
				Expect(summary.Failed).To(Equal(2))
				Expect(summary.Results[0].ErrorMessage).To(ContainSubstring("disk full"))
			})

			It("forgets them so they are retried", func() {
				Expect(cache.Stats().TotalCount).To(BeZero())
			})
		})

		When("the directory does not exist", func() {
			It("returns an empty summary", func() {
				empty, runErr := service.ProcessDirectory(context.Background(), filepath.Join(dir, "nope"), nil)
				Expect(runErr).NotTo(HaveOccurred())
				Expect(empty.Results).To(BeEmpty())
			})
		})
	})

	Describe("UploadReceipt", func() {
		var (
			data   []byte
			result *ProcessingResult
			err    error
		)

		BeforeEach(func() {
			src := filepath.Join(dir, "upload.jpg")
			writeTestPhoto(src, 50)
			data, _ = os.ReadFile(src)
		})

		JustBeforeEach(func() {
			result, err = service.UploadReceipt(context.Background(), "IMG 2025-01-15 (1).jpg", data)
		})

		It("stores the photo and the receipt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status()).To(Equal("success"))
			Expect(result.Receipt.SourceImage).To(Equal("run-0001_IMG_2025-01-15_1.jpg"))
			Expect(filepath.Join(dir, "uploads", result.Receipt.SourceImage)).To(BeAnExistingFile())

			stored, getErr := store.GetReceipt(result.Receipt.ID)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(stored.Items).To(HaveLen(2))
		})

		It("serves the photo back", func() {
			photoData, contentType, photoErr := service.GetReceiptPhoto(result.Receipt.ID)
			Expect(photoErr).NotTo(HaveOccurred())
			Expect(photoData).To(Equal(data))
			Expect(contentType).To(Equal("image/jpeg"))
		})

		When("the same photo is uploaded again", func() {
			It("returns the stored receipt as cached", func() {
				again, againErr := service.UploadReceipt(context.Background(), "copy.jpg", data)
				Expect(againErr).NotTo(HaveOccurred())
				Expect(again.Status()).To(Equal("cached"))
				Expect(again.Receipt).NotTo(BeNil())
				Expect(again.Receipt.ID).To(Equal(result.Receipt.ID))
				Expect(filepath.Join(dir, "uploads", "run-0001_copy.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.err = errors.New("quota exceeded")
			})

			It("returns the failed result and drops the photo", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Status()).To(Equal("failed"))
				entries, _ := os.ReadDir(filepath.Join(dir, "uploads"))
				Expect(entries).To(BeEmpty())
			})
		})

		When("the file is not an image", func() {
			It("returns the error", func() {
				_, uploadErr := service.UploadReceipt(context.Background(), "receipt.pdf", []byte("%PDF"))
				Expect(uploadErr).To(MatchError(ErrUnsupportedFormat))
			})
		})
	})

	Describe("ledger operations", func() {
		var ts time.Time

		BeforeEach(func() {
			ts = time.Date(2025, 1, 15, 14, 30, 0, 0, time.Local)
			Expect(store.SaveReceipt(sampleReceipt("r1", ts, 420))).To(Succeed())
			Expect(store.SaveReceipt(sampleReceipt("r2", ts.AddDate(0, 0, 2), 600))).To(Succeed())
			Expect(cache.AddSuccess("hash-r1", "r1.jpg", "r1")).To(Succeed())
		})

		It("lists receipts within a date range", func() {
			receipts, err := service.ListReceipts(DateRange{From: time.Date(2025, 1, 16, 0, 0, 0, 0, time.Local)})
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(1))
			Expect(receipts[0].ID).To(Equal("r2"))

			receipts, err = service.ListReceipts(DateRange{To: time.Date(2025, 1, 15, 0, 0, 0, 0, time.Local)})
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(1))
			Expect(receipts[0].ID).To(Equal("r1"))
		})

		It("rejects unknown currencies on update", func() {
			bad := Currency("XYZ")
			_, err := service.UpdateReceipt("r1", ReceiptUpdate{Currency: &bad})
			Expect(err).To(MatchError(ContainSubstring("unknown currency")))
		})

		It("classifies edited items without a valid category", func() {
			updated, err := service.UpdateItems("r1", []Item{{Name: "National Museum admission", Quantity: 1, UnitPrice: decimal.NewFromInt(1000)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Items[0].Category).To(Equal(category.Entertainment))
			Expect(updated.Total.String()).To(Equal("1000"))
		})

		It("forgets the photo of a deleted receipt", func() {
			Expect(service.DeleteReceipt("r1")).To(Succeed())
			Expect(cache.IsProcessed("hash-r1")).To(BeFalse())
		})

		It("returns ErrReceiptNotFound when deleting an unknown receipt", func() {
			Expect(service.DeleteReceipt("nope")).To(MatchError(ErrReceiptNotFound))
		})

		It("keeps the ledger intact under concurrent edits and reads", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(3)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					notes := fmt.Sprintf("edit %d", i)
					_, err := service.UpdateReceipt("r1", ReceiptUpdate{Notes: &notes})
					Expect(err).NotTo(HaveOccurred())
				}(i)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := service.UpdateItems("r2", []Item{{Name: "おにぎり", Quantity: 1, UnitPrice: decimal.NewFromInt(int64(100 + i)), Category: category.Food}})
					Expect(err).NotTo(HaveOccurred())
				}(i)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					receipts, err := service.ListReceipts(DateRange{})
					Expect(err).NotTo(HaveOccurred())
					Expect(receipts).To(HaveLen(2))
					_, err = service.Stats()
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			r1, err := service.GetReceipt("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(r1.Notes).To(HavePrefix("edit "))
			r2, err := service.GetReceipt("r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(r2.Items).To(HaveLen(1))
		})
	})

	When("photos are uploaded concurrently", func() {
		It("stores every receipt", func() {
			uploads := make([][]byte, 4)
			for i := range uploads {
				src := filepath.Join(dir, fmt.Sprintf("src-%d.jpg", i))
				writeTestPhoto(src, 30+i)
				data, err := os.ReadFile(src)
				Expect(err).NotTo(HaveOccurred())
				uploads[i] = data
			}

			var wg sync.WaitGroup
			for i, data := range uploads {
				wg.Add(1)
				go func(i int, data []byte) {
					defer GinkgoRecover()
					defer wg.Done()
					result, err := service.UploadReceipt(context.Background(), fmt.Sprintf("IMG_%d.jpg", i), data)
					Expect(err).NotTo(HaveOccurred())
					Expect(result.Status()).To(Equal("success"))
				}(i, data)
			}
			wg.Wait()

			receipts, err := service.ListReceipts(DateRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(4))
			Expect(cache.Stats().SuccessCount).To(Equal(4))
		})
	})
})
