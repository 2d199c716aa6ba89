// Package updater keeps the downloader binary current through its
// builtin self-update mode.
package updater

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/queued-dl/queued/server/config"
)

// Update using the builtin function of yt-dlp
func UpdateExecutable() error {
	cmd := exec.Command(config.Instance().Paths.DownloaderPath, "-U")

	out, err := cmd.CombinedOutput()
	slog.Info("downloader update", slog.String("output", strings.TrimSpace(string(out))))

	return err
}

// Version reports the installed downloader release.
func Version() (string, error) {
	out, err := exec.Command(config.Instance().Paths.DownloaderPath, "--version").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func ApplyRouter() func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
			version, err := Version()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"version": version})
		})

		r.Post("/update", func(w http.ResponseWriter, _ *http.Request) {
			if err := UpdateExecutable(); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
