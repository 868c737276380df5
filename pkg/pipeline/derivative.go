package pipeline

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// derivativeMaxSide bounds the canonical derivative to 800x800.
const derivativeMaxSide = 800

// derivativeQuality is the JPEG quality of the canonical derivative.
const derivativeQuality = 80

// derivative is the canonical JPEG variant produced on acceptance.
type derivative struct {
	data   []byte
	width  int
	height int
}

// buildDerivative resizes the original to fit within 800x800 without
// enlargement and re-encodes it as JPEG quality 80.
func buildDerivative(original []byte) (*derivative, error) {
	img, err := imaging.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("unsupported image format: %w", err)
	}

	resized := img
	b := img.Bounds()
	if b.Dx() > derivativeMaxSide || b.Dy() > derivativeMaxSide {
		resized = imaging.Fit(img, derivativeMaxSide, derivativeMaxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(derivativeQuality)); err != nil {
		return nil, fmt.Errorf("encode derivative: %w", err)
	}

	rb := resized.Bounds()
	return &derivative{
		data:   buf.Bytes(),
		width:  rb.Dx(),
		height: rb.Dy(),
	}, nil
}
