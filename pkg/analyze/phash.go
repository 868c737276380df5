package analyze

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/photogate/photogate/pkg/record"
)

// hashSide is the fixed raster size the fingerprint is computed over.
const hashSide = 32

// Hasher computes the perceptual fingerprint persisted as metaData.pHash.
//
// The fingerprint is an average-hash bitmap over a 32x32 grayscale
// downscale (1024 bits), packed LSB-first and summarized as the MD5 of
// the packed buffer, hex encoded (32 lowercase hex characters).
type Hasher struct{}

// NewHasher creates a perceptual hasher.
func NewHasher() *Hasher {
	return &Hasher{}
}

// Hash computes the fingerprint for the given image bytes. Identical
// bytes always produce identical fingerprints.
func (h *Hasher) Hash(data []byte) (string, error) {
	img, err := decodeImage(data)
	if err != nil {
		return "", err
	}

	// fit=fill semantics: exact 32x32, aspect ratio discarded.
	small := imaging.Resize(img, hashSide, hashSide, imaging.Lanczos)
	gray, w, hh := grayValues(small)
	if w != hashSide || hh != hashSide {
		return "", fmt.Errorf("perceptual hash: unexpected raster %dx%d", w, hh)
	}

	var avg float64
	for _, v := range gray {
		avg += v
	}
	avg /= float64(len(gray))

	// Pack the 1024 threshold bits LSB-first.
	packed := make([]byte, len(gray)/8)
	for i, v := range gray {
		if v >= avg {
			packed[i/8] |= 1 << (i % 8)
		}
	}

	digest := md5.Sum(packed)
	return hex.EncodeToString(digest[:]), nil
}

// Duplicate describes a detected collision with an existing record.
type Duplicate struct {
	ID           string
	OriginalName string
	Distance     int
	ByName       bool
}

// DuplicateChecker compares a candidate fingerprint against the accepted
// corpus.
type DuplicateChecker struct {
	cfg HashConfig
}

// NewDuplicateChecker creates a duplicate checker with the given
// thresholds.
func NewDuplicateChecker(cfg HashConfig) *DuplicateChecker {
	return &DuplicateChecker{cfg: cfg}
}

// Check scans the candidate records for a duplicate of (originalName,
// hash), skipping selfID. The filename fast path wins over the hash path.
// Candidates without a usable pHash are ignored.
func (c *DuplicateChecker) Check(candidates []*record.Image, selfID, originalName, hash string) *Duplicate {
	// Fast path: exact filename match, case-insensitive.
	for _, cand := range candidates {
		if cand.ID == selfID {
			continue
		}
		if strings.EqualFold(cand.OriginalName, originalName) {
			return &Duplicate{ID: cand.ID, OriginalName: cand.OriginalName, ByName: true}
		}
	}

	for _, cand := range candidates {
		if cand.ID == selfID {
			continue
		}
		candHash, ok := cand.PHash()
		if !ok {
			continue
		}
		dist, err := HammingDistance(hash, candHash)
		if err != nil {
			continue
		}
		if dist <= c.cfg.MaxHammingDistance {
			return &Duplicate{ID: cand.ID, OriginalName: cand.OriginalName, Distance: dist}
		}
	}
	return nil
}

// HammingDistance counts differing bits between two equal-length hex
// fingerprints (each hex digit expands to 4 bits).
func HammingDistance(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("hamming distance: length mismatch %d vs %d", len(a), len(b))
	}

	dist := 0
	for i := 0; i < len(a); i++ {
		da, err := hexDigit(a[i])
		if err != nil {
			return 0, err
		}
		db, err := hexDigit(b[i])
		if err != nil {
			return 0, err
		}
		dist += bits.OnesCount8(da ^ db)
	}
	return dist, nil
}

func hexDigit(c byte) (uint8, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("hamming distance: invalid hex digit %q", c)
	}
}
