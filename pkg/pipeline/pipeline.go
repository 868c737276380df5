// Package pipeline implements the image admission pipeline orchestrator.
//
// A Runner drives one record at a time through the fixed stage order:
// size, face heuristic (guarded), blur heuristic, perceptual-hash
// duplicate check. The ordering is cheapest-first: header-only size
// checks before raster heuristics, and the duplicate check last because
// it requires a corpus scan.
//
// Status transitions are serialized per record via an atomic
// compare-and-set claim; Run is idempotent on any status other than
// PENDING.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/photogate/photogate/internal/logger"
	"github.com/photogate/photogate/pkg/analyze"
	"github.com/photogate/photogate/pkg/blob"
	"github.com/photogate/photogate/pkg/record"
	"github.com/photogate/photogate/pkg/record/store"
)

// Metrics receives pipeline outcome observations. A nil Metrics is a
// no-op.
type Metrics interface {
	ObserveRun(outcome string, duration time.Duration)
}

// Config holds orchestrator settings.
type Config struct {
	// Development attaches raw error text to failed records.
	Development bool
}

// Runner executes the admission pipeline for single records.
type Runner struct {
	records  store.Store
	blobs    blob.Store
	size     *analyze.SizeAnalyzer
	face     *analyze.FaceAnalyzer
	blur     *analyze.BlurAnalyzer
	hasher   *analyze.Hasher
	dupes    *analyze.DuplicateChecker
	cfg      Config
	metrics  Metrics
}

// New creates a pipeline runner wired to the given stores and analyzer
// thresholds.
func New(records store.Store, blobs blob.Store, analyzers analyze.Config, cfg Config) *Runner {
	return &Runner{
		records: records,
		blobs:   blobs,
		size:    analyze.NewSizeAnalyzer(analyzers.Size),
		face:    analyze.NewFaceAnalyzer(analyzers.Face),
		blur:    analyze.NewBlurAnalyzer(analyzers.Blur),
		hasher:  analyze.NewHasher(),
		dupes:   analyze.NewDuplicateChecker(analyzers.Hash),
		cfg:     cfg,
	}
}

// SetMetrics attaches an outcome observer.
func (r *Runner) SetMetrics(m Metrics) {
	r.metrics = m
}

// Run processes the record through the admission pipeline.
//
// Preconditions: the record exists and is PENDING; otherwise the record
// is returned unchanged. Exactly one run is in flight per record id at
// any time, enforced by the PENDING -> PROCESSING compare-and-set.
func (r *Runner) Run(ctx context.Context, id string) (*record.Image, error) {
	start := time.Now()

	img, err := r.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.Status != record.StatusPending {
		return img, nil
	}

	claimed, err := r.records.TransitionStatus(ctx, id, record.StatusPending, record.StatusProcessing)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race to another run; report the current state.
		return r.records.Get(ctx, id)
	}

	final, err := r.process(ctx, img)
	outcome := "error"
	if err == nil && final != nil {
		outcome = strings.ToLower(string(final.Status))
	}
	if r.metrics != nil {
		r.metrics.ObserveRun(outcome, time.Since(start))
	}
	return final, err
}

// process runs the stages on a claimed record and writes the terminal
// state.
func (r *Runner) process(ctx context.Context, img *record.Image) (*record.Image, error) {
	log := logger.With("image_id", img.ID, "original_name", img.OriginalName)

	data, err := r.blobs.Get(ctx, img.OriginalPath)
	if err != nil {
		log.Error("failed to load original blob", "path", img.OriginalPath, "error", err)
		return r.fail(ctx, img.ID, record.CodeProcessingError,
			"Image processing failed", nil, 0, 0, err)
	}

	// Stage a: size.
	verdict, err := r.size.Analyze(data)
	if err != nil {
		code, msg := classifyError(err)
		return r.fail(ctx, img.ID, code, msg, nil, 0, 0, err)
	}
	// The size stage measures the original once; every later stage
	// outcome, rejection included, records those dimensions.
	width, _ := verdict.Diagnostics["width"].(int)
	height, _ := verdict.Diagnostics["height"].(int)
	if !verdict.Accepted {
		return r.fail(ctx, img.ID, verdict.Code, verdict.Message, verdict.Diagnostics, width, height, nil)
	}

	// Stage b: face heuristic. An analyzer failure here never aborts the
	// pipeline; log and continue as an Accept.
	verdict, err = r.face.AnalyzeGuarded(data)
	if err != nil {
		log.Warn("face analyzer failed, continuing", "error", err)
	} else if !verdict.Accepted {
		return r.fail(ctx, img.ID, verdict.Code, verdict.Message, verdict.Diagnostics, width, height, nil)
	}

	// Stage c: blur heuristic, with the single-sigma fallback when the
	// ensemble cannot run.
	verdict, err = r.blur.Analyze(data)
	if err != nil {
		log.Warn("blur ensemble failed, using fallback", "error", err)
		verdict, err = r.blur.AnalyzeFallback(data)
	}
	if err != nil {
		code, msg := classifyError(err)
		return r.fail(ctx, img.ID, code, msg, nil, width, height, err)
	}
	if !verdict.Accepted {
		return r.fail(ctx, img.ID, verdict.Code, verdict.Message, verdict.Diagnostics, width, height, nil)
	}

	// Stage d: perceptual hash + duplicate check. Technical failures are
	// fail-open: they never surface as a user-facing rejection.
	pHash, err := r.hasher.Hash(data)
	if err != nil {
		log.Warn("perceptual hash failed, skipping duplicate check", "error", err)
		pHash = ""
	}
	if pHash != "" {
		if dup := r.checkDuplicate(ctx, img, pHash); dup != nil {
			msg := fmt.Sprintf(
				"This image is a duplicate of an existing image (id %s, %s).",
				dup.ID, dup.OriginalName,
			)
			meta := record.MetaData{
				record.MetaPHash:     pHash,
				record.MetaSimilarTo: dup.ID,
			}
			return r.fail(ctx, img.ID, record.CodeDuplicateImageDetected, msg, meta, width, height, nil)
		}
	}

	return r.succeed(ctx, img, data, pHash, width, height)
}

// checkDuplicate scans the accepted corpus. Errors are swallowed
// (fail-open) by design.
func (r *Runner) checkDuplicate(ctx context.Context, img *record.Image, pHash string) *analyze.Duplicate {
	candidates, err := r.records.FindProcessedWithHash(ctx)
	if err != nil {
		logger.Warn("duplicate corpus scan failed, continuing",
			"image_id", img.ID, "error", err)
		return nil
	}
	return r.dupes.Check(candidates, img.ID, img.OriginalName, pHash)
}

// succeed builds the canonical derivative, persists it and writes the
// PROCESSED state.
func (r *Runner) succeed(ctx context.Context, img *record.Image, data []byte, pHash string, width, height int) (*record.Image, error) {
	deriv, err := buildDerivative(data)
	if err != nil {
		code, msg := classifyError(err)
		return r.fail(ctx, img.ID, code, msg, nil, width, height, err)
	}

	key := derivativeKey(img.OriginalPath)
	processedPath, err := r.blobs.Put(ctx, blob.NamespaceProcessed, key, deriv.data, "image/jpeg")
	if err != nil {
		logger.Error("failed to store derivative", "image_id", img.ID, "error", err)
		return r.fail(ctx, img.ID, record.CodeProcessingError,
			"Image processing failed", nil, width, height, err)
	}

	status := record.StatusProcessed
	size := int64(len(deriv.data))
	meta := record.MetaData{
		record.MetaWidth:          deriv.width,
		record.MetaHeight:         deriv.height,
		record.MetaFormat:         "jpeg",
		record.MetaProcessingTime: time.Now().UTC().Format(time.RFC3339),
	}
	if pHash != "" {
		meta[record.MetaPHash] = pHash
	}
	patch := store.Patch{
		Status:        &status,
		ProcessedPath: &processedPath,
		ProcessedSize: &size,
		MetaData:      meta,
	}
	if width > 0 && height > 0 {
		patch.Width = &width
		patch.Height = &height
	}
	updated, err := r.records.Update(ctx, img.ID, patch)
	return r.tolerateMissing(img.ID, updated, err)
}

// fail writes the FAILED state with the rejection reason, the coded
// validation error and any stage diagnostics. It records the original
// dimensions when the size stage has already measured them.
func (r *Runner) fail(ctx context.Context, id string, code record.ValidationCode, message string, diagnostics record.MetaData, width, height int, cause error) (*record.Image, error) {
	meta := record.MetaData{
		record.MetaRejectionReason:  message,
		record.MetaValidationErrors: []string{string(code)},
	}
	for k, v := range diagnostics {
		meta[k] = v
	}
	if cause != nil && r.cfg.Development {
		meta[record.MetaErrorDetail] = cause.Error()
	}

	status := record.StatusFailed
	patch := store.Patch{
		Status:   &status,
		MetaData: meta,
	}
	if width > 0 && height > 0 {
		patch.Width = &width
		patch.Height = &height
	}
	updated, err := r.records.Update(ctx, id, patch)
	return r.tolerateMissing(id, updated, err)
}

// tolerateMissing turns a not-found on the terminal update into a no-op:
// the record was deleted mid-run, which is allowed.
func (r *Runner) tolerateMissing(id string, updated *record.Image, err error) (*record.Image, error) {
	if err != nil {
		if errors.Is(err, record.ErrImageNotFound) {
			logger.Debug("record deleted during pipeline run", "image_id", id)
			return nil, nil
		}
		return nil, err
	}
	return updated, nil
}

// derivativeKey derives the processed blob key from the original key:
// the original basename with a timestamp suffix and a .jpg extension.
func derivativeKey(originalPath string) string {
	base := path.Base(originalPath)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return fmt.Sprintf("%s-%d.jpg", base, time.Now().UnixMilli())
}
