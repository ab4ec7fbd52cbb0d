package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/jonathan/identity-pipeline/internal/extraction"
	"github.com/jonathan/identity-pipeline/internal/fetch"
	"github.com/jonathan/identity-pipeline/internal/ingestion"
	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pdf"
	"github.com/jonathan/identity-pipeline/internal/storage"
	"github.com/jonathan/identity-pipeline/internal/tailoring"
)

// Messages written to a failed job's error field.
const (
	MsgPDFNoText       = "Could not parse your PDF: no text could be extracted. Scanned or image-only resumes are not supported."
	MsgNotPDF          = "Could not parse your PDF: the uploaded file is not a PDF."
	MsgPDFTooLarge     = "Could not parse your PDF: the file is larger than 10 MB."
	MsgFileMissing     = "The uploaded file could not be found. Please upload it again."
	MsgEmptyText       = "There was no text to process. Please add some content and try again."
	MsgOpportunityGone = "This job opportunity no longer exists."
	MsgNoClaims        = "Add a resume or story before tailoring."
	MsgNoPosting       = "Provide a job posting URL or paste the job description."
	MsgPostingFetch    = "The job posting page could not be loaded. Paste the description instead."
	MsgInvalidRequest  = "The request was invalid: "
	MsgModelFailure    = "The AI service failed to respond. Please try again in a few minutes."
	MsgTimeout         = "Processing took too long and was stopped. Please try again."
	MsgHashMismatch    = "The story changed while it was being submitted. Please submit it again."
	MsgGeneric         = "Something went wrong while processing. Please try again."
)

// userMessage maps a pipeline error to the actionable sentence stored on the job.
func userMessage(err error) string {
	var (
		verr *jobs.ValidationError
		ferr *fetch.Error
		aerr *extraction.APICallError
		gerr *tailoring.GenerationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pdf.ErrNoText):
		return MsgPDFNoText
	case errors.Is(err, pdf.ErrNotPDF):
		return MsgNotPDF
	case errors.Is(err, pdf.ErrTooLarge), errors.Is(err, storage.ErrTooLarge):
		return MsgPDFTooLarge
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrOutsideRoot),
		errors.Is(err, storage.ErrUnsupportedScheme):
		return MsgFileMissing
	case errors.Is(err, extraction.ErrEmptyText):
		return MsgEmptyText
	case errors.Is(err, ErrOpportunityNotFound):
		return MsgOpportunityGone
	case errors.Is(err, tailoring.ErrNoClaims):
		return MsgNoClaims
	case errors.Is(err, ingestion.ErrNoContent):
		return MsgNoPosting
	case errors.Is(err, ErrHashMismatch):
		return MsgHashMismatch
	case errors.Is(err, fetch.ErrEmptyPage), errors.As(err, &ferr):
		return MsgPostingFetch
	case errors.As(err, &verr):
		return MsgInvalidRequest + strings.Join(verr.Fields, ", ")
	case errors.As(err, &aerr), errors.As(err, &gerr):
		return MsgModelFailure
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	}
	return MsgGeneric
}
