package runtime

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func testRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Transcribe.ModelsDir = filepath.Join(t.TempDir(), "models")
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestModelDownloadUnknownModel(t *testing.T) {
	r := testRuntime(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/models/ggml-made-up.bin/download", nil)
	rec := httptest.NewRecorder()
	r.handleModelDownload(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestModelDownloadRejectsGet(t *testing.T) {
	r := testRuntime(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models/ggml-tiny.en.bin/download", nil)
	rec := httptest.NewRecorder()
	r.handleModelDownload(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestModelDownloadBadPath(t *testing.T) {
	r := testRuntime(t)

	for _, path := range []string{"/v1/models/ggml-tiny.en.bin", "/v1/models//download", "/v1/models/ggml-tiny.en.bin/activate"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		r.handleModelDownload(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d, want 404", path, rec.Code)
		}
	}
}
