package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline"
	"github.com/jonathan/identity-pipeline/internal/server/middleware"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrNotFound reports a resource that does not exist or belongs to another user.
type ErrNotFound struct {
	Resource string
}

func (e *ErrNotFound) Error() string {
	return e.Resource + " not found"
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		verr  *ErrValidation
		jverr *jobs.ValidationError
		nerr  *ErrNotFound
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &jverr):
		return http.StatusBadRequest
	case errors.As(err, &nerr), errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, pipeline.ErrOpportunityNotFound):
		return http.StatusNotFound
	case errors.Is(err, middleware.ErrNoUser):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text sent to clients. Internal failures are not echoed.
func publicMessage(err error) string {
	var jverr *jobs.ValidationError
	switch {
	case errors.As(err, &jverr):
		return "invalid fields: " + strings.Join(jverr.Fields, ", ")
	case HTTPStatus(err) == http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

// fail writes err with its mapped status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.errorResponse(w, status, publicMessage(err))
}
