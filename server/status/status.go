// Package status reports aggregate queue state and host capacity for
// the collaborator UI.
package status

import (
	"encoding/json"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/queued-dl/queued/server/config"
	"github.com/queued-dl/queued/server/internal"
	"github.com/queued-dl/queued/server/internal/manager"
)

type Status struct {
	Started        bool   `json:"started"`
	Concurrency    int    `json:"concurrency"`
	Queued         int    `json:"queued"`
	Downloading    int    `json:"downloading"`
	Paused         int    `json:"paused"`
	Completed      int    `json:"completed"`
	Errored        int    `json:"errored"`
	Canceled       int    `json:"canceled"`
	FreeSpace      uint64 `json:"free_space"`
	FreeSpaceHuman string `json:"free_space_human"`
}

func snapshot(m *manager.Manager) Status {
	counts := m.Counts()

	s := Status{
		Started:     m.Started(),
		Concurrency: m.Concurrency(),
		Queued:      counts[internal.StateQueued],
		Downloading: counts[internal.StateDownloading],
		Paused:      counts[internal.StatePaused],
		Completed:   counts[internal.StateCompleted],
		Errored:     counts[internal.StateError],
		Canceled:    counts[internal.StateCanceled],
	}

	if usage, err := disk.Usage(config.Instance().Paths.DownloadPath); err == nil {
		s.FreeSpace = usage.Free
		s.FreeSpaceHuman = humanize.Bytes(usage.Free)
	}

	return s
}

func ApplyRouter(m *manager.Manager) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(snapshot(m))
		})
	}
}
