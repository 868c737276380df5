// Package admission is the application facade over the record store, the
// blob store and the pipeline. HTTP handlers call it exclusively; no
// handler touches a store directly.
package admission

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/photogate/photogate/internal/logger"
	"github.com/photogate/photogate/pkg/blob"
	"github.com/photogate/photogate/pkg/pipeline"
	"github.com/photogate/photogate/pkg/record"
	"github.com/photogate/photogate/pkg/record/store"
)

// signedURLTTL bounds read URLs minted for listings and detail views.
const signedURLTTL = time.Hour

// allowedExtensions is the upload extension allowlist, matched
// case-insensitively.
var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".heic": {},
	".heif": {},
}

// ErrUnsupportedFileType rejects an upload before any bytes are stored.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// Config holds facade settings.
type Config struct {
	Pool PoolConfig `mapstructure:"pool" yaml:"pool"`
}

// Service coordinates uploads, queries and deletions of image records.
type Service struct {
	records store.Store
	blobs   blob.Store
	runner  *pipeline.Runner
	workers *pool
}

// New creates the admission facade and starts its background worker
// pool.
func New(records store.Store, blobs blob.Store, runner *pipeline.Runner, cfg Config) *Service {
	s := &Service{
		records: records,
		blobs:   blobs,
		runner:  runner,
	}
	s.workers = newPool(cfg.Pool, func(ctx context.Context, id string) {
		if _, err := runner.Run(ctx, id); err != nil {
			logger.Error("pipeline run failed", "image_id", id, "error", err)
		}
	})
	return s
}

// SetQueueMetrics attaches a queue depth observer to the worker pool.
func (s *Service) SetQueueMetrics(m QueueMetrics) {
	s.workers.metrics = m
}

// Shutdown drains the worker pool.
func (s *Service) Shutdown() error {
	return s.workers.Shutdown()
}

// UploadFile is one file of an upload batch.
type UploadFile struct {
	Name string
	Data []byte
}

// UploadResult reports the outcome of a single file in a batch. Exactly
// one of Image and Err is set.
type UploadResult struct {
	Name  string
	Image *record.Image
	Err   error
}

// uploadConcurrency bounds parallel blob writes within one batch.
const uploadConcurrency = 4

// UploadBatch stores each file and creates a PENDING record for it, then
// schedules a pipeline run per created record. Files store concurrently;
// failures are per-file, one bad file never aborts the batch, and
// results keep the input order.
func (s *Service) UploadBatch(ctx context.Context, files []UploadFile) []UploadResult {
	results := make([]UploadResult, len(files))

	var g errgroup.Group
	g.SetLimit(uploadConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			img, err := s.uploadOne(ctx, f)
			results[i] = UploadResult{Name: f.Name, Image: img, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) uploadOne(ctx context.Context, f UploadFile) (*record.Image, error) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}

	id := uuid.New().String()
	key := id + ext
	storedKey, err := s.blobs.Put(ctx, blob.NamespaceOriginal, key, f.Data, contentTypeFor(ext))
	if err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	img := &record.Image{
		ID:           id,
		OriginalName: f.Name,
		OriginalSize: int64(len(f.Data)),
		OriginalPath: storedKey,
		FileType:     strings.TrimPrefix(ext, "."),
		Status:       record.StatusPending,
	}
	if _, err := s.records.Create(ctx, img); err != nil {
		// Best effort cleanup of the orphaned blob.
		if derr := s.blobs.Delete(ctx, storedKey); derr != nil {
			logger.Warn("failed to clean up orphaned blob", "key", storedKey, "error", derr)
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	if err := s.workers.Schedule(ctx, id); err != nil {
		logger.Warn("failed to schedule pipeline run, record stays pending",
			"image_id", id, "error", err)
	}
	logger.Info("image uploaded", "image_id", id, "original_name", f.Name,
		"bytes", len(f.Data))
	return img, nil
}

// Detail is a record plus the read URLs minted for its blobs.
type Detail struct {
	*record.Image
	OriginalURL  string `json:"originalUrl,omitempty"`
	ProcessedURL string `json:"processedUrl,omitempty"`
}

// Page is one page of a listing.
type Page struct {
	Images []*Detail `json:"images"`
	Total  int64     `json:"total"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
}

// List returns a page of records newest first, each decorated with read
// URLs. URL minting failures degrade to records without URLs.
func (s *Service) List(ctx context.Context, status *record.Status, offset, limit int) (*Page, error) {
	images, total, err := s.records.List(ctx, store.ListFilter{Status: status}, offset, limit)
	if err != nil {
		return nil, err
	}

	details := make([]*Detail, 0, len(images))
	for _, img := range images {
		details = append(details, s.decorate(ctx, img))
	}
	return &Page{Images: details, Total: total, Offset: offset, Limit: limit}, nil
}

// GetByID returns one decorated record or record.ErrImageNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*Detail, error) {
	img, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, img), nil
}

// Delete removes the record and both its blobs. Blob deletion failures
// are logged, not surfaced; the record removal decides the outcome.
func (s *Service) Delete(ctx context.Context, id string) error {
	img, err := s.records.Get(ctx, id)
	if err != nil {
		return err
	}

	if img.OriginalPath != "" {
		if err := s.blobs.Delete(ctx, img.OriginalPath); err != nil {
			logger.Warn("failed to delete original blob", "image_id", id,
				"key", img.OriginalPath, "error", err)
		}
	}
	if img.ProcessedPath != "" {
		if err := s.blobs.Delete(ctx, img.ProcessedPath); err != nil {
			logger.Warn("failed to delete processed blob", "image_id", id,
				"key", img.ProcessedPath, "error", err)
		}
	}

	if err := s.records.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info("image deleted", "image_id", id)
	return nil
}

// Reprocess resets a non-PROCESSED record to PENDING and schedules a new
// pipeline run. PROCESSED records are immutable and return
// record.ErrAlreadyProcessed.
func (s *Service) Reprocess(ctx context.Context, id string) (*record.Image, error) {
	img, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.Status == record.StatusProcessed {
		return nil, record.ErrAlreadyProcessed
	}

	pending := record.StatusPending
	img, err = s.records.Update(ctx, id, store.Patch{Status: &pending})
	if err != nil {
		return nil, err
	}

	if err := s.workers.Schedule(ctx, id); err != nil {
		logger.Warn("failed to schedule reprocess run, record stays pending",
			"image_id", id, "error", err)
	}
	logger.Info("image queued for reprocessing", "image_id", id)
	return img, nil
}

// decorate mints read URLs for a record's blobs.
func (s *Service) decorate(ctx context.Context, img *record.Image) *Detail {
	d := &Detail{Image: img}
	if img.OriginalPath != "" {
		if url, err := s.blobs.SignedURL(ctx, img.OriginalPath, signedURLTTL); err == nil {
			d.OriginalURL = url
		} else {
			logger.Debug("failed to sign original url", "image_id", img.ID, "error", err)
		}
	}
	if img.ProcessedPath != "" {
		if url, err := s.blobs.SignedURL(ctx, img.ProcessedPath, signedURLTTL); err == nil {
			d.ProcessedURL = url
		} else {
			logger.Debug("failed to sign processed url", "image_id", img.ID, "error", err)
		}
	}
	return d
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
