package analyze

import (
	"testing"

	"github.com/photogate/photogate/pkg/record"
)

func TestHashIsDeterministic(t *testing.T) {
	h := NewHasher()
	data := encodeJPEG(t, noiseImage(400, 300, 7))

	first, err := h.Hash(data)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := h.Hash(data)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	if first != second {
		t.Errorf("identical bytes must hash identically: %s vs %s", first, second)
	}
	if len(first) != 32 {
		t.Errorf("expected 32 hex characters, got %d (%s)", len(first), first)
	}
}

func TestHashDistinguishesImages(t *testing.T) {
	h := NewHasher()
	a, err := h.Hash(encodeJPEG(t, noiseImage(400, 300, 1)))
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	b, err := h.Hash(encodeJPEG(t, rampImage(400, 300)))
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if a == b {
		t.Error("structurally different images should not collide")
	}
}

func TestHashRejectsGarbage(t *testing.T) {
	h := NewHasher()
	if _, err := h.Hash([]byte("garbage")); err == nil {
		t.Error("expected error for undecodable bytes")
	}
}

func TestHammingDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"0000", "0000", 0},
		{"0000", "0001", 1},
		{"0000", "000f", 4},
		{"ffff", "0000", 16},
		{"abcd", "ABCD", 0},
	}
	for _, c := range cases {
		got, err := HammingDistance(c.a, c.b)
		if err != nil {
			t.Fatalf("HammingDistance(%q, %q) failed: %v", c.a, c.b, err)
		}
		if got != c.want {
			t.Errorf("HammingDistance(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}

	if _, err := HammingDistance("00", "000"); err == nil {
		t.Error("expected error on length mismatch")
	}
	if _, err := HammingDistance("0g", "00"); err == nil {
		t.Error("expected error on invalid hex digit")
	}
}

func TestDuplicateCheckerNameFastPath(t *testing.T) {
	c := NewDuplicateChecker(DefaultHashConfig())
	candidates := []*record.Image{
		{ID: "one", OriginalName: "Photo.JPG", MetaData: record.MetaData{"pHash": "00"}},
	}

	dup := c.Check(candidates, "self", "photo.jpg", "ff")
	if dup == nil {
		t.Fatal("expected name match")
	}
	if !dup.ByName || dup.ID != "one" {
		t.Errorf("unexpected duplicate %+v", dup)
	}
}

func TestDuplicateCheckerSkipsSelf(t *testing.T) {
	c := NewDuplicateChecker(DefaultHashConfig())
	candidates := []*record.Image{
		{ID: "self", OriginalName: "photo.jpg", MetaData: record.MetaData{"pHash": "00"}},
	}

	if dup := c.Check(candidates, "self", "photo.jpg", "00"); dup != nil {
		t.Errorf("the record must not match itself, got %+v", dup)
	}
}

func TestDuplicateCheckerHammingThreshold(t *testing.T) {
	c := NewDuplicateChecker(DefaultHashConfig())

	near := []*record.Image{
		{ID: "near", OriginalName: "other.jpg", MetaData: record.MetaData{"pHash": "0001"}},
	}
	if dup := c.Check(near, "self", "mine.jpg", "0000"); dup == nil || dup.ID != "near" {
		t.Errorf("distance 1 must match, got %+v", dup)
	}

	far := []*record.Image{
		{ID: "far", OriginalName: "other.jpg", MetaData: record.MetaData{"pHash": "00ff"}},
	}
	if dup := c.Check(far, "self", "mine.jpg", "0000"); dup != nil {
		t.Errorf("distance 8 must not match, got %+v", dup)
	}
}

func TestDuplicateCheckerIgnoresMissingHash(t *testing.T) {
	c := NewDuplicateChecker(DefaultHashConfig())
	candidates := []*record.Image{
		{ID: "nohash", OriginalName: "other.jpg"},
	}
	if dup := c.Check(candidates, "self", "mine.jpg", "0000"); dup != nil {
		t.Errorf("candidates without a hash must be skipped, got %+v", dup)
	}
}
