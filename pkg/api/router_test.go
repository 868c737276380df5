package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/photogate/photogate/pkg/admission"
	"github.com/photogate/photogate/pkg/analyze"
	"github.com/photogate/photogate/pkg/blob/local"
	"github.com/photogate/photogate/pkg/metrics"
	"github.com/photogate/photogate/pkg/pipeline"
	"github.com/photogate/photogate/pkg/record"
	"github.com/photogate/photogate/pkg/record/store"
	"github.com/photogate/photogate/pkg/record/store/memory"
)

type apiEnv struct {
	handler http.Handler
	records *memory.Store
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	blobs, err := local.New(local.Config{
		BaseDir: t.TempDir(),
		BaseURL: "http://localhost:3000/uploads",
	})
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}
	records := memory.New()

	cfg := analyze.DefaultConfig()
	cfg.Size = analyze.SizeConfig{MinWidth: 1, MinHeight: 1, MinBytes: 1}
	cfg.Face.FeatureMinConfidence = 0.96
	cfg.Face.ComplexSigma = 1 << 20
	cfg.Face.ManyFeatures = 1 << 20
	cfg.Face.SomeFeatures = 1 << 20
	cfg.Blur.SharpenRatio = 1 << 20
	cfg.Blur.SharpBlockFraction = 0
	cfg.Blur.EdgePixelFraction = 0
	cfg.Blur.GradientFactor = 0
	cfg.Blur.FallbackSigma = 0

	runner := pipeline.New(records, blobs, cfg, pipeline.Config{})
	svc := admission.New(records, blobs, runner, admission.Config{
		Pool: admission.PoolConfig{Workers: 2},
	})
	t.Cleanup(func() {
		_ = svc.Shutdown()
	})

	handler := NewRouter(RouterDeps{
		Service: svc,
		Records: records,
		Metrics: metrics.New(),
	})
	return &apiEnv{handler: handler, records: records}
}

func (e *apiEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return body
}

// multipartUpload builds a POST /api/images request carrying the named
// files under the "images" field.
func multipartUpload(t *testing.T, files map[string][]byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		part, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func testJPEG(t *testing.T, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 200, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{
				uint8(rng.Intn(256)),
				uint8(rng.Intn(256)),
				uint8(rng.Intn(256)),
				255,
			})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestUploadEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, multipartUpload(t, map[string][]byte{
		"photo.jpg": testJPEG(t, 1),
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Error("expected success true")
	}
	images, ok := body["images"].([]any)
	if !ok || len(images) != 1 {
		t.Fatalf("expected one uploaded image, got %v", body["images"])
	}
	first := images[0].(map[string]any)
	if first["originalName"] != "photo.jpg" || first["id"] == "" {
		t.Errorf("unexpected image entry %v", first)
	}
}

func TestUploadEndpointRejectsEmptyBatch(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, multipartUpload(t, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != true {
		t.Errorf("expected error body, got %v", body)
	}
}

func TestUploadEndpointRejectsBadExtension(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, multipartUpload(t, map[string][]byte{
		"notes.txt": []byte("plain text"),
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	// The bad file must reject the request before anything is stored.
	_, total, err := env.records.List(context.Background(), store.ListFilter{}, 0, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 0 {
		t.Errorf("expected no records, got %d", total)
	}
}

func TestListEndpointPagination(t *testing.T) {
	env := newAPIEnv(t)

	for i := 0; i < 3; i++ {
		rec := env.do(t, multipartUpload(t, map[string][]byte{
			fmt.Sprintf("photo-%d.jpg", i): testJPEG(t, int64(i)),
		}))
		if rec.Code != http.StatusCreated {
			t.Fatalf("upload %d failed: %d", i, rec.Code)
		}
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/images?page=1&limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	images := body["images"].([]any)
	if len(images) != 2 {
		t.Errorf("expected 2 images on the page, got %d", len(images))
	}
	pagination := body["pagination"].(map[string]any)
	if pagination["total"] != float64(3) || pagination["pages"] != float64(2) ||
		pagination["page"] != float64(1) || pagination["limit"] != float64(2) {
		t.Errorf("unexpected pagination %v", pagination)
	}
}

func TestListEndpointRejectsBadParameters(t *testing.T) {
	env := newAPIEnv(t)

	for _, path := range []string{
		"/api/images?page=0",
		"/api/images?limit=nope",
		"/api/images?status=bogus",
	} {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestGetEndpointNotFound(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/images/no-such-id", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != true || body["message"] != "Image not found" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, multipartUpload(t, map[string][]byte{
		"gone.jpg": testJPEG(t, 9),
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d", rec.Code)
	}
	id := decodeBody(t, rec)["images"].([]any)[0].(map[string]any)["id"].(string)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/images/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/images/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestReprocessEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/images/no-such-id/process", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("failed record is accepted", func(t *testing.T) {
		failed := record.StatusFailed
		id, err := env.records.Create(ctx, &record.Image{
			OriginalName: "bad.jpg",
			OriginalPath: "original/bad.jpg",
			Status:       failed,
		})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/images/"+id+"/process", nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if body["imageId"] != id {
			t.Errorf("expected imageId %s, got %v", id, body["imageId"])
		}
	})

	t.Run("processed record is immutable", func(t *testing.T) {
		id, err := env.records.Create(ctx, &record.Image{
			OriginalName: "done.jpg",
			Status:       record.StatusProcessed,
		})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/images/"+id+"/process", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Contains(payload, []byte("go_goroutines")) {
		t.Error("expected standard Go collector output")
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != true || body["message"] != "Route not found" {
		t.Errorf("unexpected body %v", body)
	}
}
