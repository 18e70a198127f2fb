package models

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPickDefaultPrefersBestInstalled(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "ggml-tiny.en.bin")
	touch(t, dir, "ggml-medium.en.bin")

	if got := PickDefault(dir); got != "ggml-medium.en.bin" {
		t.Fatalf("PickDefault = %q, want ggml-medium.en.bin", got)
	}
}

func TestPickDefaultFallsBackToAnyInstalled(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "ggml-custom.bin")

	if got := PickDefault(dir); got != "ggml-custom.bin" {
		t.Fatalf("PickDefault = %q, want ggml-custom.bin", got)
	}
}

func TestPickDefaultEmptyDir(t *testing.T) {
	if got := PickDefault(t.TempDir()); got != "ggml-base.en.bin" {
		t.Fatalf("PickDefault = %q, want ggml-base.en.bin", got)
	}
}

func TestPickDefaultMissingDir(t *testing.T) {
	if got := PickDefault(filepath.Join(t.TempDir(), "missing")); got != "ggml-base.en.bin" {
		t.Fatalf("PickDefault = %q, want ggml-base.en.bin", got)
	}
}

func TestListMergesKnownAndCustom(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "ggml-base.en.bin")
	touch(t, dir, "ggml-custom.bin")
	touch(t, dir, "notes.txt") // ignored, not a model

	infos, err := List(dir, "ggml-base.en.bin")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != len(knownModels)+1 {
		t.Fatalf("len(infos) = %d, want %d", len(infos), len(knownModels)+1)
	}

	byName := make(map[string]Info, len(infos))
	for _, info := range infos {
		byName[info.FileName] = info
	}

	base := byName["ggml-base.en.bin"]
	if !base.Installed || !base.Active {
		t.Fatalf("base.en = %+v, want installed and active", base)
	}
	if base.DownloadURL == "" {
		t.Fatal("base.en missing download URL")
	}

	custom := byName["ggml-custom.bin"]
	if !custom.Installed || custom.Active {
		t.Fatalf("custom = %+v, want installed and inactive", custom)
	}
	if custom.Quality != "custom" {
		t.Fatalf("custom.Quality = %q", custom.Quality)
	}
	if custom.DownloadURL != "" {
		t.Fatal("custom entries must not carry a download URL")
	}

	tiny := byName["ggml-tiny.en.bin"]
	if tiny.Installed {
		t.Fatal("tiny.en should not be installed")
	}
}

func TestListMissingDir(t *testing.T) {
	infos, err := List(filepath.Join(t.TempDir(), "missing"), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != len(knownModels) {
		t.Fatalf("len(infos) = %d, want %d", len(infos), len(knownModels))
	}
}

func TestDownloadWritesAtomically(t *testing.T) {
	payload := []byte("pretend model weights")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	var calls int
	var lastReceived, lastTotal int64
	progress := func(received, total int64) {
		calls++
		lastReceived, lastTotal = received, total
	}
	if err := download(context.Background(), srv.URL, dir, "ggml-tiny.en.bin", progress); err != nil {
		t.Fatalf("download: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "ggml-tiny.en.bin"))
	if err != nil {
		t.Fatalf("read downloaded model: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("downloaded bytes = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "ggml-tiny.en.bin.part")); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
	if calls == 0 || lastReceived != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Fatalf("progress calls=%d received=%d total=%d", calls, lastReceived, lastTotal)
	}
}

func TestDownloadBadStatusLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := download(context.Background(), srv.URL, dir, "ggml-tiny.en.bin", nil); err == nil {
		t.Fatal("expected error for bad status")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("dir entries = %d, want 0", len(entries))
	}
}

func TestDownloadUnknownModel(t *testing.T) {
	err := Download(context.Background(), t.TempDir(), "ggml-made-up.bin", nil)
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}
