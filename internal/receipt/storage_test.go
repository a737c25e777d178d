package receipt

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		base    string
		storage *LocalStorage
	)

	BeforeEach(func() {
		base = filepath.Join(GinkgoT().TempDir(), "photos")
		var err error
		storage, err = NewLocalStorage(base)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory", func() {
		Expect(base).To(BeADirectory())
	})

	It("saves and reads photos", func() {
		path, err := storage.Save("a.jpg", []byte("jpeg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal(filepath.Join(base, "a.jpg")))

		data, err := storage.Get("a.jpg")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("jpeg"))
	})

	It("keeps writes inside the base directory", func() {
		path, err := storage.Save("../../escape.jpg", []byte("x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(filepath.Dir(path)).To(Equal(base))
	})

	It("deletes photos", func() {
		_, err := storage.Save("a.jpg", []byte("jpeg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(storage.Delete("a.jpg")).To(Succeed())
		Expect(filepath.Join(base, "a.jpg")).NotTo(BeAnExistingFile())
	})

	When("the photo does not exist", func() {
		It("returns the error", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(MatchError(os.ErrNotExist))
			Expect(storage.Delete("missing.jpg")).To(MatchError(os.ErrNotExist))
		})
	})
})

var _ = DescribeTable("sanitizeFilename",
	func(in, expected string) {
		Expect(sanitizeFilename(in)).To(Equal(expected))
	},
	Entry("plain name", "receipt.jpg", "receipt.jpg"),
	Entry("lowercases the extension", "IMG_0001.HEIC", "IMG_0001.heic"),
	Entry("spaces become underscores", "my  receipt (1).png", "my_receipt_1.png"),
	Entry("keeps non-latin letters", "東京 レシート.jpg", "東京_レシート.jpg"),
	Entry("falls back when nothing is left", "!!!.jpg", "receipt.jpg"),
	Entry("drops directories", "../../etc/passwd.jpg", "passwd.jpg"),
	Entry("truncates long names", strings.Repeat("a", 80)+".jpg", strings.Repeat("a", 50)+".jpg"),
)
