package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// PhotoStorage defines the interface for storing uploaded receipt photos
type PhotoStorage interface {
	// Save writes a photo and returns its full path
	Save(filename string, data []byte) (string, error)

	// Get reads a photo by file name
	Get(filename string) ([]byte, error)

	// Delete removes a photo by file name
	Delete(filename string) error
}

// LocalStorage implements PhotoStorage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage rooted at basePath
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating photo directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes data under basePath
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing photo: %w", err)
	}
	return path, nil
}

// Get reads a photo from basePath
func (l *LocalStorage) Get(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filepath.Base(filename)))
	if err != nil {
		return nil, fmt.Errorf("reading photo: %w", err)
	}
	return data, nil
}

// Delete removes a photo from basePath
func (l *LocalStorage) Delete(filename string) error {
	if err := os.Remove(filepath.Join(l.basePath, filepath.Base(filename))); err != nil {
		return fmt.Errorf("deleting photo: %w", err)
	}
	return nil
}

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips odd characters and shortens long phone-generated names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaces.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_ ")

	if r := []rune(base); len(r) > 50 {
		base = string(r[:50])
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}
