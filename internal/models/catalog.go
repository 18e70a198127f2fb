// Package models manages the whisper model catalog: which model files are
// installed, which to prefer, and downloading known models.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnknownModel marks a requested model that is not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Info describes one model, known or locally installed.
type Info struct {
	FileName    string `json:"file_name"`
	Label       string `json:"label"`
	Quality     string `json:"quality"`
	Installed   bool   `json:"installed"`
	Active      bool   `json:"active"`
	DownloadURL string `json:"download_url,omitempty"`
}

type knownModel struct {
	fileName    string
	label       string
	quality     string
	downloadURL string
}

// preferredOrder ranks installed models for automatic selection, best first.
var preferredOrder = []string{
	"ggml-large-v3-turbo-q5_0.bin",
	"ggml-large-v3-turbo.bin",
	"ggml-large-v3.bin",
	"ggml-medium.en.bin",
	"ggml-small.en.bin",
	"ggml-base.en.bin",
	"ggml-tiny.en.bin",
}

var knownModels = []knownModel{
	{"ggml-large-v3-turbo-q5_0.bin", "large-v3-turbo-q5_0", "best balance", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo-q5_0.bin"},
	{"ggml-large-v3-turbo.bin", "large-v3-turbo", "highest quality (fast)", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo.bin"},
	{"ggml-large-v3.bin", "large-v3", "highest quality", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin"},
	{"ggml-medium.en.bin", "medium.en", "high quality", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.en.bin"},
	{"ggml-small.en.bin", "small.en", "better than base", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.en.bin"},
	{"ggml-base.en.bin", "base.en", "balanced", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin"},
	{"ggml-tiny.en.bin", "tiny.en", "fastest", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin"},
}

// PickDefault chooses the best installed model, falling back to the first
// installed file, then to base.en when nothing is installed yet.
func PickDefault(modelsDir string) string {
	for _, name := range preferredOrder {
		if _, err := os.Stat(filepath.Join(modelsDir, name)); err == nil {
			return name
		}
	}
	if files, err := installedModelFiles(modelsDir); err == nil && len(files) > 0 {
		return files[0]
	}
	return "ggml-base.en.bin"
}

// List merges the known catalog with whatever .bin files are installed in
// modelsDir. Unknown installed files appear as "custom" entries.
func List(modelsDir, activeModel string) ([]Info, error) {
	installed, err := installedModelFiles(modelsDir)
	if err != nil {
		return nil, err
	}
	installedSet := make(map[string]struct{}, len(installed))
	for _, name := range installed {
		installedSet[name] = struct{}{}
	}

	out := make([]Info, 0, len(knownModels)+len(installed))
	seen := make(map[string]struct{}, len(knownModels))
	for _, known := range knownModels {
		_, isInstalled := installedSet[known.fileName]
		out = append(out, Info{
			FileName:    known.fileName,
			Label:       known.label,
			Quality:     known.quality,
			Installed:   isInstalled,
			Active:      activeModel == known.fileName,
			DownloadURL: known.downloadURL,
		})
		seen[known.fileName] = struct{}{}
	}
	for _, name := range installed {
		if _, ok := seen[name]; ok {
			continue
		}
		out = append(out, Info{
			FileName:  name,
			Label:     name,
			Quality:   "custom",
			Installed: true,
			Active:    activeModel == name,
		})
	}
	return out, nil
}

// Download fetches a known model into modelsDir through a temp file so a
// partial download never shadows a real model. progress, when non-nil, is
// called with bytes received and total (total may be -1).
func Download(ctx context.Context, modelsDir, fileName string, progress func(received, total int64)) error {
	var url string
	for _, known := range knownModels {
		if known.fileName == fileName {
			url = known.downloadURL
			break
		}
	}
	if url == "" {
		return fmt.Errorf("%w: %q", ErrUnknownModel, fileName)
	}
	return download(ctx, url, modelsDir, fileName, progress)
}

func download(ctx context.Context, url, modelsDir, fileName string, progress func(received, total int64)) error {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", fileName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", fileName, resp.Status)
	}

	partPath := filepath.Join(modelsDir, fileName+".part")
	file, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", partPath, err)
	}
	defer os.Remove(partPath)

	var received int64
	buf := make([]byte, 1<<20)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				file.Close()
				return fmt.Errorf("write %s: %w", partPath, err)
			}
			received += int64(n)
			if progress != nil {
				progress(received, resp.ContentLength)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			return fmt.Errorf("download %s: %w", fileName, readErr)
		}
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", partPath, err)
	}

	if err := os.Rename(partPath, filepath.Join(modelsDir, fileName)); err != nil {
		return fmt.Errorf("finalize %s: %w", fileName, err)
	}
	return nil
}

func installedModelFiles(modelsDir string) ([]string, error) {
	entries, err := os.ReadDir(modelsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".bin") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}
