package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ProcessingCache", func() {
	var (
		path  string
		clock *mockTimeSource
		cache *ProcessingCache
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "cache", "processed.json")
		clock = &mockTimeSource{now: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)}
		cache = NewProcessingCacheWithClock(path, clock)
	})

	When("the file does not exist", func() {
		It("starts empty", func() {
			Expect(cache.Stats()).To(Equal(CacheStats{}))
		})
	})

	Describe("AddSuccess", func() {
		BeforeEach(func() {
			Expect(cache.AddSuccess("abc", "IMG_0001.jpg", "abc0000000000000")).To(Succeed())
		})

		It("marks the hash as processed", func() {
			Expect(cache.IsProcessed("abc")).To(BeTrue())
		})

		It("records the entry", func() {
			entry, ok := cache.Entry("abc")
			Expect(ok).To(BeTrue())
			Expect(entry.Status).To(Equal(StatusSuccess))
			Expect(entry.ReceiptID).To(Equal("abc0000000000000"))
			Expect(entry.ProcessedAt).To(Equal(clock.now))
		})

		It("persists across instances", func() {
			reloaded := NewProcessingCache(path)
			Expect(reloaded.IsProcessed("abc")).To(BeTrue())
		})

		It("writes readable unescaped JSON", func() {
			Expect(cache.AddSuccess("def", "ローソン<1>.jpg", "def")).To(Succeed())
			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("ローソン<1>.jpg"))
			Expect(string(data)).To(ContainSubstring("\n  \""))
		})
	})

	Describe("AddFailure", func() {
		BeforeEach(func() {
			Expect(cache.AddFailure("bad", "blurry.jpg", "no JSON")).To(Succeed())
		})

		It("does not count as processed", func() {
			Expect(cache.IsProcessed("bad")).To(BeFalse())
		})

		It("keeps the error message", func() {
			entry, ok := cache.Entry("bad")
			Expect(ok).To(BeTrue())
			Expect(entry.ErrorMessage).To(Equal("no JSON"))
		})

		When("the photo later succeeds", func() {
			It("overwrites the failure", func() {
				Expect(cache.AddSuccess("bad", "blurry.jpg", "bad")).To(Succeed())
				Expect(cache.IsProcessed("bad")).To(BeTrue())
				Expect(cache.Failed()).To(BeEmpty())
			})
		})
	})

	Describe("Remove", func() {
		BeforeEach(func() {
			Expect(cache.AddSuccess("abc", "a.jpg", "abc")).To(Succeed())
		})

		It("removes an existing entry", func() {
			removed, err := cache.Remove("abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())
			Expect(cache.IsProcessed("abc")).To(BeFalse())
		})

		It("reports a missing entry", func() {
			removed, err := cache.Remove("nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeFalse())
		})
	})

	Describe("Stats, Processed and Failed", func() {
		BeforeEach(func() {
			Expect(cache.AddSuccess("a", "a.jpg", "a")).To(Succeed())
			clock.now = clock.now.Add(time.Minute)
			Expect(cache.AddSuccess("b", "b.jpg", "b")).To(Succeed())
			Expect(cache.AddFailure("c", "c.jpg", "boom")).To(Succeed())
		})

		It("counts entries by status", func() {
			Expect(cache.Stats()).To(Equal(CacheStats{SuccessCount: 2, FailedCount: 1, TotalCount: 3}))
		})

		It("lists successes oldest first", func() {
			processed := cache.Processed()
			Expect(processed).To(HaveLen(2))
			Expect(processed[0].FileHash).To(Equal("a"))
			Expect(processed[1].FileHash).To(Equal("b"))
		})

		It("lists failures", func() {
			Expect(cache.Failed()).To(HaveLen(1))
		})

		It("empties on Clear", func() {
			Expect(cache.Clear()).To(Succeed())
			Expect(cache.Stats().TotalCount).To(BeZero())
			Expect(NewProcessingCache(path).Stats().TotalCount).To(BeZero())
		})
	})

	When("the file is corrupt", func() {
		BeforeEach(func() {
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("{not json"), 0644)).To(Succeed())
			cache = NewProcessingCache(path)
		})

		It("starts empty", func() {
			Expect(cache.Stats().TotalCount).To(BeZero())
		})

		It("can still record entries", func() {
			Expect(cache.AddSuccess("abc", "a.jpg", "abc")).To(Succeed())
			Expect(NewProcessingCache(path).IsProcessed("abc")).To(BeTrue())
		})
	})
	When("an entry is null", func() {
		BeforeEach(func() {
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte(`{"abc": null, "def": {"file_hash": "def", "source_image": "d.jpg", "status": "success", "receipt_id": "def"}}`), 0644)).To(Succeed())
			cache = NewProcessingCache(path)
		})

		It("drops the entry", func() {
			Expect(cache.IsProcessed("abc")).To(BeFalse())
			Expect(cache.IsProcessed("def")).To(BeTrue())
		})

		It("counts only the valid entries", func() {
			Expect(cache.Stats()).To(Equal(CacheStats{SuccessCount: 1, TotalCount: 1}))
			Expect(cache.Processed()).To(HaveLen(1))
		})
	})

	When("used from several goroutines", func() {
		It("records every entry", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(2)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					hash := fmt.Sprintf("hash-%d", i)
					Expect(cache.AddFailure(hash, hash+".jpg", "boom")).To(Succeed())
				}(i)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_ = cache.Stats()
					_ = cache.Failed()
					_ = cache.IsProcessed("hash-0")
				}()
			}
			wg.Wait()

			Expect(cache.Stats().FailedCount).To(Equal(8))
			Expect(NewProcessingCache(path).Stats().FailedCount).To(Equal(8))
		})
	})
})
