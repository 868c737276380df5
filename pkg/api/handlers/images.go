package handlers

import (
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/photogate/photogate/pkg/admission"
	"github.com/photogate/photogate/pkg/record"
)

const (
	// maxUploadFiles bounds one multipart batch.
	maxUploadFiles = 10

	// maxUploadBytes bounds one file of a batch (10 MiB).
	maxUploadBytes = 10 << 20

	// defaultPageLimit applies when the limit query parameter is absent.
	defaultPageLimit = 20
)

// allowedUploadExtensions mirrors the facade allowlist so a bad file
// rejects the request before any bytes reach the blob store.
var allowedUploadExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".heic": {},
	".heif": {},
}

// UploadMetrics counts per-file upload outcomes. A nil UploadMetrics is
// a no-op.
type UploadMetrics interface {
	ObserveUpload(accepted bool)
}

// ImagesHandler serves the /api/images routes.
type ImagesHandler struct {
	svc         *admission.Service
	metrics     UploadMetrics
	development bool
}

// NewImagesHandler creates the images handler.
func NewImagesHandler(svc *admission.Service, metrics UploadMetrics, development bool) *ImagesHandler {
	return &ImagesHandler{svc: svc, metrics: metrics, development: development}
}

// uploadedImage is the per-file slice of the upload response.
type uploadedImage struct {
	ID           string        `json:"id"`
	Status       record.Status `json:"status"`
	OriginalName string        `json:"originalName"`
}

// Upload handles POST /api/images: a multipart batch of 1-10 files under
// the "images" field.
func (h *ImagesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes * maxUploadFiles); err != nil {
		BadRequest(w, "Invalid multipart request", h.development)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		BadRequest(w, "No files uploaded", h.development)
		return
	}
	if len(headers) > maxUploadFiles {
		BadRequest(w, fmt.Sprintf("Too many files: maximum is %d per request", maxUploadFiles), h.development)
		return
	}

	// Validate the whole batch before storing anything so a bad file
	// rejects the request without side effects.
	files := make([]admission.UploadFile, 0, len(headers))
	for _, fh := range headers {
		data, err := h.readUpload(fh)
		if err != nil {
			h.observe(false)
			BadRequest(w, err.Error(), h.development)
			return
		}
		files = append(files, admission.UploadFile{Name: fh.Filename, Data: data})
	}

	results := h.svc.UploadBatch(r.Context(), files)

	created := make([]uploadedImage, 0, len(results))
	var failed int
	for _, res := range results {
		if res.Err != nil {
			h.observe(false)
			failed++
			continue
		}
		h.observe(true)
		created = append(created, uploadedImage{
			ID:           res.Image.ID,
			Status:       res.Image.Status,
			OriginalName: res.Image.OriginalName,
		})
	}
	if len(created) == 0 {
		Internal(w, errors.New("no files could be stored"), h.development)
		return
	}

	message := fmt.Sprintf("%d image(s) uploaded and queued for processing", len(created))
	if failed > 0 {
		message = fmt.Sprintf("%d image(s) uploaded, %d failed", len(created), failed)
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": message,
		"images":  created,
	})
}

// readUpload validates one file header and reads its bytes.
func (h *ImagesHandler) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if _, ok := allowedUploadExtensions[ext]; !ok {
		return nil, fmt.Errorf("Unsupported file type %q: allowed types are jpg, jpeg, png, gif, heic, heif", ext)
	}
	if fh.Size > maxUploadBytes {
		return nil, fmt.Errorf("File %q exceeds the %d MiB limit", fh.Filename, maxUploadBytes>>20)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("Failed to read file %q", fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("Failed to read file %q", fh.Filename)
	}
	if len(data) > maxUploadBytes {
		return nil, fmt.Errorf("File %q exceeds the %d MiB limit", fh.Filename, maxUploadBytes>>20)
	}
	return data, nil
}

// List handles GET /api/images with page, limit and status query
// parameters.
func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := positiveQueryInt(r, "page", 1)
	if err != nil {
		BadRequest(w, err.Error(), h.development)
		return
	}
	limit, err := positiveQueryInt(r, "limit", defaultPageLimit)
	if err != nil {
		BadRequest(w, err.Error(), h.development)
		return
	}

	var status *record.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := record.Status(strings.ToUpper(raw))
		if !s.IsValid() {
			BadRequest(w, fmt.Sprintf("Invalid status %q", raw), h.development)
			return
		}
		status = &s
	}

	result, err := h.svc.List(r.Context(), status, (page-1)*limit, limit)
	if err != nil {
		Internal(w, err, h.development)
		return
	}

	pages := 0
	if result.Total > 0 {
		pages = int(math.Ceil(float64(result.Total) / float64(limit)))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"images":  result.Images,
		"pagination": map[string]any{
			"total": result.Total,
			"page":  page,
			"limit": limit,
			"pages": pages,
		},
	})
}

// Get handles GET /api/images/{id}.
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, record.ErrImageNotFound) {
			NotFound(w, "Image not found", h.development)
			return
		}
		Internal(w, err, h.development)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"image":   detail,
	})
}

// Delete handles DELETE /api/images/{id}.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, record.ErrImageNotFound) {
			NotFound(w, "Image not found", h.development)
			return
		}
		Internal(w, err, h.development)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Image deleted",
	})
}

// Reprocess handles POST /api/images/{id}/process. The pipeline run is
// asynchronous; the handler acknowledges with 202.
func (h *ImagesHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Reprocess(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, record.ErrImageNotFound):
			NotFound(w, "Image not found", h.development)
		case errors.Is(err, record.ErrAlreadyProcessed):
			BadRequest(w, "Image has already been processed", h.development)
		default:
			Internal(w, err, h.development)
		}
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Image queued for processing",
		"imageId": id,
	})
}

func (h *ImagesHandler) observe(accepted bool) {
	if h.metrics != nil {
		h.metrics.ObserveUpload(accepted)
	}
}

// positiveQueryInt parses a query parameter that must be a positive
// integer, falling back to def when absent.
func positiveQueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("Invalid %s parameter %q", name, raw)
	}
	return n, nil
}
