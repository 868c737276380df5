package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/photogate/photogate/pkg/analyze"
	"github.com/photogate/photogate/pkg/blob"
	"github.com/photogate/photogate/pkg/blob/local"
	"github.com/photogate/photogate/pkg/record"
	"github.com/photogate/photogate/pkg/record/store"
	"github.com/photogate/photogate/pkg/record/store/memory"
)

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func noiseImage(w, h int, seed int64) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				uint8(rng.Intn(256)),
				uint8(rng.Intn(256)),
				uint8(rng.Intn(256)),
				255,
			})
		}
	}
	return img
}

func flatImage(w, h int, v uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func rampImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / (w - 1))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

// lenientConfig disables every heuristic threshold so any decodable
// image passes the content stages; tests then tighten single stages.
func lenientConfig() analyze.Config {
	cfg := analyze.DefaultConfig()

	cfg.Size = analyze.SizeConfig{MinWidth: 1, MinHeight: 1, MinBytes: 1}

	// Feature confidence caps at 0.95, so a floor above it yields no
	// features; the remaining ceilings are out of reach.
	cfg.Face.FeatureMinConfidence = 0.96
	cfg.Face.ComplexSigma = 1 << 20
	cfg.Face.ManyFeatures = 1 << 20
	cfg.Face.SomeFeatures = 1 << 20
	cfg.Face.HighResWidth = 1 << 20
	cfg.Face.HighResHeight = 1 << 20
	cfg.Face.MegapixelLimit = 1 << 40
	cfg.Face.LandscapeMinWidth = 1 << 20

	cfg.Blur.SharpenRatio = 1 << 20
	cfg.Blur.SharpBlockFraction = 0
	cfg.Blur.EdgePixelFraction = 0
	cfg.Blur.GradientFactor = 0
	cfg.Blur.FallbackSigma = 0

	return cfg
}

type pipelineEnv struct {
	records *memory.Store
	blobs   blob.Store
	runner  *Runner
}

func newPipelineEnv(t *testing.T, analyzers analyze.Config) *pipelineEnv {
	t.Helper()
	blobs, err := local.New(local.Config{
		BaseDir: t.TempDir(),
		BaseURL: "http://localhost:3000/uploads",
	})
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}
	records := memory.New()
	return &pipelineEnv{
		records: records,
		blobs:   blobs,
		runner:  New(records, blobs, analyzers, Config{}),
	}
}

// upload stores the bytes as an original blob and creates the PENDING
// record, mirroring what the admission service does.
func (e *pipelineEnv) upload(t *testing.T, name string, data []byte) string {
	t.Helper()
	ctx := context.Background()

	key, err := e.blobs.Put(ctx, blob.NamespaceOriginal, name, data, "image/jpeg")
	if err != nil {
		t.Fatalf("failed to store blob: %v", err)
	}
	id, err := e.records.Create(ctx, &record.Image{
		OriginalName: name,
		OriginalSize: int64(len(data)),
		OriginalPath: key,
		FileType:     "jpg",
	})
	if err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	return id
}

func TestRunAcceptsImage(t *testing.T) {
	env := newPipelineEnv(t, lenientConfig())
	ctx := context.Background()

	id := env.upload(t, "ok.jpg", encodeJPEG(t, noiseImage(400, 300, 1)))

	img, err := env.runner.Run(ctx, id)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if img.Status != record.StatusProcessed {
		t.Fatalf("expected PROCESSED, got %s (%v)", img.Status, img.MetaData)
	}
	if !strings.HasPrefix(img.ProcessedPath, blob.NamespaceProcessed+"/") {
		t.Errorf("unexpected processed path %q", img.ProcessedPath)
	}
	if img.Width != 400 || img.Height != 300 {
		t.Errorf("expected original dimensions 400x300, got %dx%d", img.Width, img.Height)
	}
	if img.ProcessedSize <= 0 {
		t.Error("expected processed size")
	}
	if _, ok := img.PHash(); !ok {
		t.Error("expected a perceptual hash on the processed record")
	}
	if img.MetaData[record.MetaFormat] != "jpeg" {
		t.Errorf("expected format jpeg, got %v", img.MetaData[record.MetaFormat])
	}

	// The derivative must actually exist in the processed namespace.
	if _, err := env.blobs.Get(ctx, img.ProcessedPath); err != nil {
		t.Errorf("derivative blob missing: %v", err)
	}
}

func TestRunRejectsUndersizedImage(t *testing.T) {
	cfg := lenientConfig()
	cfg.Size.MinWidth = 5000
	cfg.Size.MinHeight = 5000
	env := newPipelineEnv(t, cfg)

	id := env.upload(t, "small.jpg", encodeJPEG(t, noiseImage(400, 300, 1)))

	img, err := env.runner.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if img.Status != record.StatusFailed {
		t.Fatalf("expected FAILED, got %s", img.Status)
	}
	codes := img.ValidationErrors()
	if len(codes) != 1 || codes[0] != record.CodeSizeValidationFailed {
		t.Errorf("expected size_validation_failed, got %v", codes)
	}
	if img.MetaData[record.MetaRejectionReason] == "" {
		t.Error("expected a rejection reason")
	}
}

func TestRunDetectsDuplicateByHash(t *testing.T) {
	env := newPipelineEnv(t, lenientConfig())
	ctx := context.Background()
	data := encodeJPEG(t, noiseImage(400, 300, 42))

	firstID := env.upload(t, "first.jpg", data)
	first, err := env.runner.Run(ctx, firstID)
	if err != nil || first.Status != record.StatusProcessed {
		t.Fatalf("seed run failed: status=%v err=%v", first.Status, err)
	}

	// Identical bytes under a different name: the hash path must catch it.
	secondID := env.upload(t, "copy.jpg", data)
	second, err := env.runner.Run(ctx, secondID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if second.Status != record.StatusFailed {
		t.Fatalf("expected FAILED, got %s", second.Status)
	}
	codes := second.ValidationErrors()
	if len(codes) != 1 || codes[0] != record.CodeDuplicateImageDetected {
		t.Errorf("expected duplicate_image_detected, got %v", codes)
	}
	if second.MetaData[record.MetaSimilarTo] != firstID {
		t.Errorf("expected similarTo %s, got %v", firstID, second.MetaData[record.MetaSimilarTo])
	}
}

func TestRunDetectsDuplicateByName(t *testing.T) {
	env := newPipelineEnv(t, lenientConfig())
	ctx := context.Background()

	firstID := env.upload(t, "Holiday.JPG", encodeJPEG(t, noiseImage(400, 300, 7)))
	first, err := env.runner.Run(ctx, firstID)
	if err != nil || first.Status != record.StatusProcessed {
		t.Fatalf("seed run failed: status=%v err=%v", first.Status, err)
	}

	// Different pixels but the same filename modulo case.
	secondID := env.upload(t, "holiday.jpg", encodeJPEG(t, rampImage(400, 300)))
	second, err := env.runner.Run(ctx, secondID)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if second.Status != record.StatusFailed {
		t.Fatalf("expected FAILED, got %s", second.Status)
	}
	if second.MetaData[record.MetaSimilarTo] != firstID {
		t.Errorf("expected similarTo %s, got %v", firstID, second.MetaData[record.MetaSimilarTo])
	}
}

func TestRunIgnoresNonPendingRecords(t *testing.T) {
	env := newPipelineEnv(t, lenientConfig())
	ctx := context.Background()

	id, err := env.records.Create(ctx, &record.Image{
		OriginalName: "done.jpg",
		Status:       record.StatusProcessed,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	img, err := env.runner.Run(ctx, id)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if img.Status != record.StatusProcessed {
		t.Errorf("non-pending record must be untouched, got %s", img.Status)
	}
}

func TestRunFailsOnMissingBlob(t *testing.T) {
	env := newPipelineEnv(t, lenientConfig())
	ctx := context.Background()

	id, err := env.records.Create(ctx, &record.Image{
		OriginalName: "ghost.jpg",
		OriginalPath: "original/missing.jpg",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	img, err := env.runner.Run(ctx, id)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if img.Status != record.StatusFailed {
		t.Fatalf("expected FAILED, got %s", img.Status)
	}
	codes := img.ValidationErrors()
	if len(codes) != 1 || codes[0] != record.CodeProcessingError {
		t.Errorf("expected processing_error, got %v", codes)
	}
}

func TestRunKeepsDimensionsOnRejection(t *testing.T) {
	// Lenient everywhere except blur, so the rejection happens after the
	// size stage has measured the original.
	cfg := lenientConfig()
	cfg.Blur = analyze.DefaultBlurConfig()
	env := newPipelineEnv(t, cfg)

	id := env.upload(t, "flat.jpg", encodeJPEG(t, flatImage(400, 300, 128)))

	img, err := env.runner.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if img.Status != record.StatusFailed {
		t.Fatalf("expected FAILED, got %s", img.Status)
	}
	codes := img.ValidationErrors()
	if len(codes) != 1 || codes[0] != record.CodeBlurryImageDetected {
		t.Fatalf("expected blurry_image_detected, got %v", codes)
	}
	if img.Width != 400 || img.Height != 300 {
		t.Errorf("rejected record lost its dimensions: got %dx%d, want 400x300",
			img.Width, img.Height)
	}
}

// vanishingStore deletes the record right before the terminal update,
// simulating a client delete racing the pipeline.
type vanishingStore struct {
	*memory.Store
}

func (s *vanishingStore) Update(ctx context.Context, id string, patch store.Patch) (*record.Image, error) {
	if err := s.Store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.Update(ctx, id, patch)
}

func TestRunToleratesDeleteDuringRun(t *testing.T) {
	env := newPipelineEnv(t, lenientConfig())
	ctx := context.Background()
	env.runner.records = &vanishingStore{Store: env.records}

	id := env.upload(t, "gone.jpg", encodeJPEG(t, noiseImage(400, 300, 1)))

	img, err := env.runner.Run(ctx, id)
	if err != nil {
		t.Fatalf("mid-run delete must not surface an error, got %v", err)
	}
	if img != nil {
		t.Fatalf("expected no record after mid-run delete, got %+v", img)
	}
	if _, err := env.records.Get(ctx, id); !errors.Is(err, record.ErrImageNotFound) {
		t.Errorf("deleted record must stay deleted, got %v", err)
	}
}

func TestRunFailsOnCorruptImage(t *testing.T) {
	env := newPipelineEnv(t, lenientConfig())

	id := env.upload(t, "broken.gif", []byte("definitely not pixels"))

	img, err := env.runner.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if img.Status != record.StatusFailed {
		t.Fatalf("expected FAILED, got %s", img.Status)
	}
}
