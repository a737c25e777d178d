package photo

import (
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// orientation describes the transform that brings an EXIF-oriented image upright.
// Rotate is in degrees counter-clockwise and is applied before the flip.
type orientation struct {
	Rotate int
	FlipH  bool
}

// orientations maps EXIF orientation codes 2-8 to their transform.
// Code 1 and unknown codes are absent on purpose: the image is left as is.
var orientations = map[int]orientation{
	2: {Rotate: 0, FlipH: true},
	3: {Rotate: 180},
	4: {Rotate: 180, FlipH: true},
	5: {Rotate: 270, FlipH: true},
	6: {Rotate: 270},
	7: {Rotate: 90, FlipH: true},
	8: {Rotate: 90},
}

// readOrientation returns the EXIF orientation code, or 1 when the
// metadata is missing or unreadable
func readOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	code, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return code
}

// applyOrientation rotates/flips img according to code.
// The boolean reports whether any transform was applied.
func applyOrientation(img image.Image, code int) (image.Image, bool) {
	o, ok := orientations[code]
	if !ok {
		return img, false
	}

	switch o.Rotate {
	case 90:
		img = imaging.Rotate90(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate270(img)
	}
	if o.FlipH {
		img = imaging.FlipH(img)
	}
	return img, true
}
