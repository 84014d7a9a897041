package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bnema/harvest/internal/service"
)

// EventSource is the part of the event bus the streams use.
type EventSource interface {
	Subscribe(jobID string) chan service.Event
	Unsubscribe(jobID string, ch chan service.Event)
}

const keepAliveInterval = 15 * time.Second

type SSEHandler struct {
	events EventSource
	jobs   JobService
}

func NewSSEHandler(events EventSource, jobs JobService) *SSEHandler {
	return &SSEHandler{events: events, jobs: jobs}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sseWriteEvent(w http.ResponseWriter, event service.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	sseWrite(w, event.Type, string(data))
	return nil
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// snapshot is the first event of every stream: the job as it is now.
func snapshot(job *service.JobDetail) service.Event {
	return service.Event{
		Type:   service.EventStatus,
		JobID:  job.ID,
		Status: string(job.Status),
		Job:    job.Job,
	}
}

// Events streams a job's updates until the client goes away. Deliveries
// can follow a job's completion, so the stream stays open after it.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := h.jobs.GetJob(r.Context(), id)
		if err != nil {
			writeServiceError(w, "events", err)
			return
		}

		// Subscribe before sending the snapshot so no update falls in between.
		ch := h.events.Subscribe(id)
		defer h.events.Unsubscribe(id, ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		_ = sseWriteEvent(w, snapshot(job))

		ctx := r.Context()
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := sseWriteEvent(w, event); err != nil {
					return
				}
			}
		}
	}
}
