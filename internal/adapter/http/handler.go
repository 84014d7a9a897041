package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bnema/harvest/internal/adapter/http/validation"
	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/service"
)

const maxRequestBody = 16 << 10

type JobService interface {
	CreateJob(ctx context.Context, username string, maxVideos int, subscriberID string) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*service.JobDetail, error)
	ListJobs(ctx context.Context) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
	FlushJob(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type Handlers struct {
	jobs JobService
}

func NewHandlers(jobs JobService) *Handlers {
	return &Handlers{jobs: jobs}
}

type createJobRequest struct {
	Username     string `json:"username"`
	MaxVideos    int    `json:"max_videos"`
	SubscriberID string `json:"subscriber_id"`
}

func (h *Handlers) CreateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		username, err := validation.Username(req.Username)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		subscriber, err := validation.SubscriberID(req.SubscriberID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.MaxVideos < 0 {
			writeError(w, http.StatusBadRequest, "max_videos must not be negative")
			return
		}

		job, err := h.jobs.CreateJob(r.Context(), username, req.MaxVideos, subscriber)
		if err != nil {
			writeServiceError(w, "create job", err)
			return
		}
		w.Header().Set("Location", "/jobs/"+job.ID)
		writeJSON(w, http.StatusCreated, job)
	}
}

func (h *Handlers) ListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := h.jobs.ListJobs(r.Context())
		if err != nil {
			writeServiceError(w, "list jobs", err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func (h *Handlers) GetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, "get job", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func (h *Handlers) DeleteJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.jobs.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, "delete job", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) FlushJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := h.jobs.FlushJob(r.Context(), id); err != nil {
			writeServiceError(w, "flush job", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "flush queued"})
	}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.jobs.Ping(r.Context()); err != nil {
			logger.Error.Printf("health: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeServiceError maps domain errors to status codes. Anything else is
// logged and reported as an internal error.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error.Printf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
