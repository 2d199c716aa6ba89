package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/queued-dl/queued/server/internal"
	"github.com/queued-dl/queued/server/internal/eventbus"
	"github.com/queued-dl/queued/server/internal/manager"
)

// Attach subscribes the archive to the event bus. Every Completed
// event becomes one history entry. Returns the subscription id.
func Attach(s *Service, bus *eventbus.Bus, m *manager.Manager) string {
	return bus.Subscribe(func(ev internal.Event) {
		if ev.Kind != internal.EventCompleted {
			return
		}

		entry := &Entry{
			JobID:     ev.JobID,
			Filename:  ev.Payload.Filename,
			CreatedAt: ev.Timestamp,
		}
		if snap, err := m.Job(ev.JobID); err == nil {
			entry.URL = snap.URL
		}

		slog.Info("archiving completed download",
			slog.String("id", ev.JobID),
			slog.String("filename", entry.Filename),
		)

		if err := s.Archive(context.Background(), entry); err != nil {
			slog.Error("failed archiving download", slog.Any("err", err))
		}
	})
}

func ApplyRouter(s *Service) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

			entries, err := s.All(r.Context(), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(entries)
		})

		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := s.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
