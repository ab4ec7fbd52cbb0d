package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jonathan/identity-pipeline/internal/jobs"
)

// Job stream event names.
const (
	eventJob       = "job"
	eventPhase     = "phase"
	eventHighlight = "highlight"
	eventWarning   = "warning"
	eventComplete  = "complete"
	eventError     = "error"
)

// PhaseEvent is sent when a job enters a phase or reports progress within one.
type PhaseEvent struct {
	Phase    jobs.Phase `json:"phase"`
	Progress string     `json:"progress,omitempty"`
}

// WarningEvent carries a non-fatal caveat recorded on the job.
type WarningEvent struct {
	Warning string `json:"warning"`
}

// CompleteEvent ends a job stream.
type CompleteEvent struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// SSEWriter writes Server-Sent Events to a flushing response.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers. It fails when w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends one named event with a JSON payload.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event. The stream should end after it.
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent(eventError, map[string]string{"error": message}) //nolint:errcheck
}

// WriteKeepAlive sends an SSE comment so idle proxies keep the connection open.
func (s *SSEWriter) WriteKeepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// jobEvents turns successive reads of one job row into typed events. The first
// read sends the whole row; later reads send only what changed.
type jobEvents struct {
	sse  *SSEWriter
	last *jobs.Job
}

func newJobEvents(sse *SSEWriter) *jobEvents {
	return &jobEvents{sse: sse}
}

// Send writes the events for job and reports whether anything was written.
func (e *jobEvents) Send(job *jobs.Job) (bool, error) {
	prev := e.last
	e.last = job
	if prev == nil {
		return true, e.sse.WriteEvent(eventJob, publicJob(job))
	}

	wrote := false
	write := func(event string, data any) error {
		wrote = true
		return e.sse.WriteEvent(event, data)
	}

	if job.Status != prev.Status && !job.Status.IsTerminal() {
		if err := write(eventJob, publicJob(job)); err != nil {
			return wrote, err
		}
	}
	phase, progress := deref(job.Phase), deref(job.Progress)
	if phase != deref(prev.Phase) || progress != deref(prev.Progress) {
		if err := write(eventPhase, PhaseEvent{Phase: phase, Progress: progress}); err != nil {
			return wrote, err
		}
	}
	for _, h := range addedHighlights(prev.Highlights, job.Highlights) {
		if err := write(eventHighlight, h); err != nil {
			return wrote, err
		}
	}
	if warning := deref(job.Warning); warning != "" && warning != deref(prev.Warning) {
		if err := write(eventWarning, WarningEvent{Warning: warning}); err != nil {
			return wrote, err
		}
	}
	return wrote, nil
}

// Complete sends the closing event for a terminal job.
func (e *jobEvents) Complete(job *jobs.Job) error {
	return e.sse.WriteEvent(eventComplete, CompleteEvent{
		JobID:  job.ID.String(),
		Status: job.Status,
		Error:  deref(job.Error),
	})
}

// addedHighlights returns the entries of cur that were not in prev. The list is
// a sliding window, so prev's tail is matched against cur's head.
func addedHighlights(prev, cur []jobs.Highlight) []jobs.Highlight {
	for shift := 0; shift <= len(prev); shift++ {
		kept := prev[shift:]
		if len(kept) > len(cur) {
			continue
		}
		if equalHighlights(kept, cur[:len(kept)]) {
			return cur[len(kept):]
		}
	}
	return cur
}

func equalHighlights(a, b []jobs.Highlight) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func deref[T ~string](p *T) T {
	if p == nil {
		return ""
	}
	return *p
}
