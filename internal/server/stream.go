package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline/steps"
)

const keepAliveEvery = 15 * time.Second

// StepsResponse lists the step journal of a job.
type StepsResponse struct {
	JobID   string          `json:"job_id"`
	Status  jobs.Status     `json:"status"`
	Steps   []steps.RunStep `json:"steps"`
	Summary StepsSummary    `json:"summary"`
}

// StepsSummary counts journal rows by status.
type StepsSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// handleListJobSteps returns the step journal, optionally filtered by ?status=.
func (s *Server) handleListJobSteps(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	var filter *string
	if raw := r.URL.Query().Get("status"); raw != "" {
		switch steps.Status(raw) {
		case steps.StatusInProgress, steps.StatusCompleted, steps.StatusFailed, steps.StatusSkipped:
		default:
			s.fail(w, &ErrValidation{Field: "status", Message: "unknown step status " + raw})
			return
		}
		filter = &raw
	}

	list, err := s.store.ListRunSteps(r.Context(), job.ID, filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	if list == nil {
		list = []steps.RunStep{}
	}

	resp := StepsResponse{JobID: job.ID.String(), Status: job.Status, Steps: list}
	resp.Summary.Total = len(list)
	for _, st := range list {
		switch steps.Status(st.Status) {
		case steps.StatusCompleted:
			resp.Summary.Completed++
		case steps.StatusInProgress:
			resp.Summary.InProgress++
		case steps.StatusFailed:
			resp.Summary.Failed++
		case steps.StatusSkipped:
			resp.Summary.Skipped++
		}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleStreamJob sends the job row as a "job" event, then "phase", "highlight"
// and "warning" events as the row changes. It ends with a "complete" event once
// the job reaches a terminal status.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	ticker := time.NewTicker(s.streamEvery)
	defer ticker.Stop()

	events := newJobEvents(sse)
	lastWrite := time.Now()

	for {
		wrote, err := events.Send(job)
		if err != nil {
			s.logger.Debug("stream client gone", zap.String("job_id", job.ID.String()), zap.Error(err))
			return
		}
		if wrote {
			lastWrite = time.Now()
		}
		if job.Status.IsTerminal() {
			if err := events.Complete(job); err != nil {
				s.logger.Debug("stream client gone", zap.String("job_id", job.ID.String()), zap.Error(err))
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Since(lastWrite) >= keepAliveEvery {
			if err := sse.WriteKeepAlive(); err != nil {
				return
			}
			lastWrite = time.Now()
		}

		next, err := s.store.GetJob(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("stream reload failed", zap.String("job_id", job.ID.String()), zap.Error(err))
			sse.WriteError("failed to load job")
			return
		}
		job = next
	}
}
