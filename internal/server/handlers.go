package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/server/middleware"
	"github.com/jonathan/identity-pipeline/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyBytes     = 1 << 20
)

// StoryRequest is the body of POST /jobs/story
type StoryRequest struct {
	Text string `json:"text"`
}

// ResumeRequest is the body of POST /jobs/resume. The file is already in storage.
type ResumeRequest struct {
	Filename        string `json:"filename"`
	StorageLocation string `json:"storageLocation"`
}

// OpportunityRequest is the body of POST /jobs/opportunity
type OpportunityRequest struct {
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// TailorRequest is the body of POST /jobs/tailor
type TailorRequest struct {
	OpportunityID uuid.UUID `json:"opportunityId"`
	Regenerate    bool      `json:"regenerate"`
}

// SubmitResponse is returned for every accepted submission.
type SubmitResponse struct {
	JobID  uuid.UUID    `json:"jobId"`
	Type   jobs.JobType `json:"type"`
	Status jobs.Status  `json:"status"`
}

// ProfileResponse is a tailored profile with its grounding check.
type ProfileResponse struct {
	Profile    *types.TailoredProfile `json:"profile"`
	Evaluation *types.Evaluation      `json:"evaluation,omitempty"`
}

func (s *Server) handleSubmitStory(w http.ResponseWriter, r *http.Request) {
	var req StoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.fail(w, &ErrValidation{Field: "text", Message: "is required"})
		return
	}
	job, err := s.svc.SubmitStory(r.Context(), userID(r), req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.accepted(w, job)
}

func (s *Server) handleSubmitResume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.StorageLocation == "" {
		s.fail(w, &ErrValidation{Field: "storageLocation", Message: "is required"})
		return
	}
	if req.Filename == "" {
		req.Filename = req.StorageLocation[strings.LastIndex(req.StorageLocation, "/")+1:]
	}
	job, err := s.svc.SubmitResume(r.Context(), userID(r), req.Filename, req.StorageLocation)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.accepted(w, job)
}

func (s *Server) handleSubmitOpportunity(w http.ResponseWriter, r *http.Request) {
	var req OpportunityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" && strings.TrimSpace(req.Description) == "" {
		s.fail(w, &ErrValidation{Field: "url", Message: "url or description is required"})
		return
	}
	job, err := s.svc.SubmitOpportunity(r.Context(), userID(r), strings.TrimSpace(req.URL), req.Description)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.accepted(w, job)
}

// handleSubmitTailor answers 200 with the stored profile when one exists and
// regenerate is false, else 202 with the new job.
func (s *Server) handleSubmitTailor(w http.ResponseWriter, r *http.Request) {
	var req TailorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.OpportunityID == uuid.Nil {
		s.fail(w, &ErrValidation{Field: "opportunityId", Message: "is required"})
		return
	}
	start, err := s.svc.StartTailor(r.Context(), userID(r), req.OpportunityID, req.Regenerate)
	if err != nil {
		s.fail(w, err)
		return
	}
	if start.Cached {
		s.jsonResponse(w, http.StatusOK, start)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, start)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, publicJob(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	q := r.URL.Query()
	filter := jobs.ListFilter{OwnerID: &owner, Limit: defaultListLimit}

	if raw := q.Get("type"); raw != "" {
		t, err := jobs.ParseJobType(raw)
		if err != nil {
			s.fail(w, &ErrValidation{Field: "type", Message: err.Error()})
			return
		}
		filter.Type = t
	}
	if raw := q.Get("status"); raw != "" {
		filter.Status = jobs.Status(raw)
		switch filter.Status {
		case jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusDuplicate:
		default:
			s.fail(w, &ErrValidation{Field: "status", Message: "unknown status " + raw})
			return
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	list, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]jobs.Job, len(list))
	for i := range list {
		out[i] = *publicJob(&list[i])
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": out, "count": len(out)})
}

func (s *Server) handleGetOpportunity(w http.ResponseWriter, r *http.Request) {
	opp, ok := s.ownedOpportunity(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, opp)
}

func (s *Server) handleGetTailoredProfile(w http.ResponseWriter, r *http.Request) {
	opp, ok := s.ownedOpportunity(w, r)
	if !ok {
		return
	}
	profile, err := s.store.GetTailoredProfile(r.Context(), opp.OwnerID, opp.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if profile == nil {
		s.fail(w, &ErrNotFound{Resource: "tailored profile"})
		return
	}
	eval, err := s.store.GetEvaluation(r.Context(), profile.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ProfileResponse{Profile: profile, Evaluation: eval})
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.GetIdentitySummary(r.Context(), userID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	if summary == nil {
		s.fail(w, &ErrNotFound{Resource: "identity summary"})
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

// decode reads a JSON body, writing the 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) accepted(w http.ResponseWriter, job *jobs.Job) {
	w.Header().Set("Location", "/jobs/"+job.ID.String())
	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, Type: job.Type, Status: job.Status})
}

// ownedJob loads the {id} job. Jobs of other users are reported as missing.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, &ErrValidation{Field: "id", Message: "must be a UUID"})
		return nil, false
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	if job.OwnerID != userID(r) {
		s.fail(w, &ErrNotFound{Resource: "job"})
		return nil, false
	}
	return job, true
}

func (s *Server) ownedOpportunity(w http.ResponseWriter, r *http.Request) (*types.Opportunity, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, &ErrValidation{Field: "id", Message: "must be a UUID"})
		return nil, false
	}
	opp, err := s.store.GetOpportunity(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	if opp == nil || opp.OwnerID != userID(r) {
		s.fail(w, &ErrNotFound{Resource: "opportunity"})
		return nil, false
	}
	return opp, true
}

// publicJob drops the stored trigger event, which can hold the full submitted text.
func publicJob(job *jobs.Job) *jobs.Job {
	out := *job
	out.Input = nil
	return &out
}

// userID is set by the identity middleware on every routed request.
func userID(r *http.Request) uuid.UUID {
	id, _ := middleware.GetUserID(r)
	return id
}
