package status

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes job status HTTP endpoints using go-chi.
type Handler struct {
	repo Repository
	log  *slog.Logger
}

// NewHandler returns a Handler that serves the snapshots of repo.
func NewHandler(repo Repository, log *slog.Logger) *Handler {
	return &Handler{repo: repo, log: log}
}

// Mount registers the handler routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.ListJobs)
		r.Get("/{job_id}", h.GetJob)
	})
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.repo.List())
}

// GetJob handles GET /jobs/{job_id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := JobID(chi.URLParam(r, "job_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	snap, ok := h.repo.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h.writeJSON(w, snap)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		h.log.Error("unable to encode response", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}
