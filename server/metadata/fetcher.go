// Package metadata previews a URL without queuing a download, using
// the downloader's JSON dump mode.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/queued-dl/queued/server/config"
)

const fetchTimeout = 30 * time.Second

type Metadata struct {
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Thumbnail  string  `json:"thumbnail"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
}

// Fetch runs the downloader in dump-json mode and decodes the result.
func Fetch(ctx context.Context, url string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, config.Instance().Paths.DownloaderPath, url, "-J", "--no-playlist")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var bufferedStderr bytes.Buffer

	go func() {
		io.Copy(&bufferedStderr, stderr)
	}()

	slog.Info("retrieving metadata", slog.String("url", url))

	var meta Metadata
	if err := json.NewDecoder(stdout).Decode(&meta); err != nil {
		cmd.Wait()
		return nil, err
	}

	if err := cmd.Wait(); err != nil {
		return nil, errors.New(bufferedStderr.String())
	}

	return &meta, nil
}

func ApplyRouter() func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			url := req.URL.Query().Get("url")
			if url == "" {
				http.Error(w, "missing url parameter", http.StatusBadRequest)
				return
			}

			ctx, cancel := context.WithTimeout(req.Context(), fetchTimeout)
			defer cancel()

			meta, err := Fetch(ctx, url)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(meta)
		})
	}
}
