// Package models fetches ggml whisper models from HuggingFace.
package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// baseURL hosts the ggml conversions published with whisper.cpp.
var baseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Known lists the model names accepted by Download with approximate sizes.
var Known = map[string]string{
	"tiny.en":   "75 MB",
	"tiny":      "75 MB",
	"base.en":   "142 MB",
	"base":      "142 MB",
	"small.en":  "466 MB",
	"small":     "466 MB",
	"medium.en": "1.5 GB",
	"large-v3":  "2.9 GB",
}

// FileName returns the ggml file name for a model name.
func FileName(name string) string {
	return "ggml-" + name + ".bin"
}

// Names returns the known model names sorted.
func Names() []string {
	names := make([]string, 0, len(Known))
	for n := range Known {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Download fetches model name into dir and returns the file path. An
// existing non-empty file is kept. Progress is written to out when non-nil.
func Download(ctx context.Context, name, dir string, out io.Writer) (string, error) {
	if _, ok := Known[name]; !ok {
		return "", fmt.Errorf("unknown model %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	if out == nil {
		out = io.Discard
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating models dir: %w", err)
	}

	file := FileName(name)
	dest := filepath.Join(dir, file)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		fmt.Fprintf(out, "  Model already exists: %s (%.0f MB)\n", dest, mb(info.Size()))
		return dest, nil
	}

	url := baseURL + "/" + file
	fmt.Fprintf(out, "  Downloading %s\n  Destination: %s\n", url, dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", file, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s failed: HTTP %d", file, resp.StatusCode)
	}

	// Write to a temp file first, then rename.
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	pw := &progressWriter{writer: f, out: out, total: resp.ContentLength, label: file}
	written, err := io.Copy(pw, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing model file: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tmp)
		return "", fmt.Errorf("short download: got %d of %d bytes", written, resp.ContentLength)
	}
	fmt.Fprintf(out, "\n  Downloaded %.1f MB\n", mb(written))

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("moving model file: %w", err)
	}
	return dest, nil
}

func mb(n int64) float64 { return float64(n) / (1024 * 1024) }

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label, mb(pw.written), mb(pw.total), float64(pw.written)/float64(pw.total)*100)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded", pw.label, mb(pw.written))
	}
	return n, err
}
