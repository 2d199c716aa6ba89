package templates

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func ApplyRouter(s *Store) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			list, err := s.List()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(list)
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			t, err := s.Get(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(t)
		})

		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var t Template
			if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := s.Save(&t); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(t)
		})

		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := s.Delete(chi.URLParam(r, "id")); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
