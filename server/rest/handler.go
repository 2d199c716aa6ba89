package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/queued-dl/queued/server/internal"
	"github.com/queued-dl/queued/server/internal/command"
	"github.com/queued-dl/queued/server/internal/manager"
	"github.com/queued-dl/queued/server/internal/store"
	"github.com/queued-dl/queued/server/internal/worker"
)

type Handler struct {
	service *Service
}

func ApplyRouter(args *ContainerArgs) func(chi.Router) {
	h := ProvideHandler(ProvideService(args))

	return func(r chi.Router) {
		r.Post("/jobs", h.Submit)
		r.Get("/jobs", h.List)
		r.Get("/jobs/{id}", h.Get)
		r.Get("/jobs/{id}/log", h.Log)
		r.Delete("/jobs/{id}", h.Remove)
		r.Post("/jobs/{id}/cancel", h.jobCommand(h.service.Cancel))
		r.Post("/jobs/{id}/pause", h.jobCommand(h.service.Pause))
		r.Post("/jobs/{id}/resume", h.jobCommand(h.service.Resume))
		r.Post("/jobs/{id}/retry", h.jobCommand(h.service.Retry))
		r.Post("/jobs/clear-completed", h.ClearCompleted)
		r.Post("/queue/start", h.Start)
		r.Post("/queue/stop", h.Stop)
		r.Post("/queue/concurrency", h.SetConcurrency)
	}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req internal.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	id, err := h.service.Submit(req)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.Jobs(r.Context())
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Job(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	tail, _ := strconv.Atoi(r.URL.Query().Get("tail"))

	lines, err := h.service.LogTail(chi.URLParam(r, "id"), tail)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"log": lines})
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	cleared := h.service.ClearCompleted()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.service.Start()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.service.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Concurrency int `json:"concurrency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	if err := h.service.SetConcurrency(req.Concurrency); err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) jobCommand(cmd func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cmd(chi.URLParam(r, "id")); err != nil {
			writeError(w, err, statusFor(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, code int) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, command.ErrInvalidOptions),
		errors.Is(err, manager.ErrBadConcurrency):
		return http.StatusBadRequest
	case errors.Is(err, manager.ErrCannotPause),
		errors.Is(err, manager.ErrCannotResume),
		errors.Is(err, manager.ErrCannotRetry),
		errors.Is(err, manager.ErrCannotCancel),
		errors.Is(err, manager.ErrRetryLimit),
		errors.Is(err, manager.ErrJobActive),
		errors.Is(err, worker.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
