package photo

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
)

// DefaultMaxSize is the longest side, in pixels, an image may keep
const DefaultMaxSize = 2048

const (
	jpegQuality = 85
	hashChunk   = 8192
)

// ErrUnsupportedFormat is returned for files outside the extension allow-list
var ErrUnsupportedFormat = errors.New("unsupported image format")

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".heif": true,
}

// Preprocessor normalizes receipt photos before they are sent to a model
type Preprocessor struct {
	maxSize  int
	cacheDir string
}

// NewPreprocessor creates a Preprocessor that writes normalized copies into cacheDir.
// A non-positive maxSize falls back to DefaultMaxSize.
func NewPreprocessor(maxSize int, cacheDir string) *Preprocessor {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Preprocessor{
		maxSize:  maxSize,
		cacheDir: cacheDir,
	}
}

// IsSupportedFormat reports whether path has an allowed image extension
func (p *Preprocessor) IsSupportedFormat(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// CalculateHash returns the hex SHA-256 of the file's original bytes
func (p *Preprocessor) CalculateHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunk)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing image: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Process auto-rotates, downsizes and converts the image at path.
// When none of that is needed the original path is returned untouched;
// otherwise a JPEG derivative is written to the cache directory and its path returned.
func (p *Preprocessor) Process(path string) (string, error) {
	if !p.IsSupportedFormat(path) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	isHEIC := isHEICExtension(path)
	img, err := decode(data, isHEIC)
	if err != nil {
		return "", err
	}

	img, rotated := applyOrientation(img, readOrientation(bytes.NewReader(data)))
	img, resized := p.resize(img)

	if !rotated && !resized && !isHEIC {
		return path, nil
	}

	if err := os.MkdirAll(p.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	out := p.processedPath(path)
	if err := imaging.Save(toRGB(img), out, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("encoding JPEG: %w", err)
	}
	return out, nil
}

// resize scales img so its longer side equals maxSize, keeping the aspect ratio
func (p *Preprocessor) resize(img image.Image) (image.Image, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= p.maxSize && h <= p.maxSize {
		return img, false
	}

	var nw, nh int
	if w > h {
		nw = p.maxSize
		nh = int(float64(h) * float64(p.maxSize) / float64(w))
	} else {
		nh = p.maxSize
		nw = int(float64(w) * float64(p.maxSize) / float64(h))
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return imaging.Resize(img, nw, nh, imaging.Lanczos), true
}

func (p *Preprocessor) processedPath(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(p.cacheDir, stem+"_processed.jpg")
}

func decode(data []byte, isHEIC bool) (image.Image, error) {
	if isHEIC {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func isHEICExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".heic" || ext == ".heif"
}

// toRGB drops alpha and palette information so the JPEG encoder sees plain RGB.
// Colour channels are kept as they are; transparency is discarded, not composited.
func toRGB(img image.Image) image.Image {
	switch img.(type) {
	case *image.YCbCr, *image.Gray, *image.CMYK:
		return img
	}

	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
