package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/identity-pipeline/internal/jobs"
	"github.com/jonathan/identity-pipeline/internal/pipeline"
	"github.com/jonathan/identity-pipeline/internal/server/middleware"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "request validation", err: &ErrValidation{Field: "text", Message: "required"}, want: http.StatusBadRequest},
		{name: "event validation", err: &jobs.ValidationError{Fields: []string{"Text"}}, want: http.StatusBadRequest},
		{name: "not found", err: &ErrNotFound{Resource: "job"}, want: http.StatusNotFound},
		{name: "job not found wrapped", err: fmt.Errorf("load: %w", jobs.ErrJobNotFound), want: http.StatusNotFound},
		{name: "opportunity not found", err: pipeline.ErrOpportunityNotFound, want: http.StatusNotFound},
		{name: "no user", err: middleware.ErrNoUser, want: http.StatusUnauthorized},
		{name: "unknown", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "invalid fields: Text, UserID", publicMessage(&jobs.ValidationError{Fields: []string{"Text", "UserID"}}))
	assert.Equal(t, "internal error", publicMessage(errors.New("connection refused to 10.0.0.3")))
	assert.Equal(t, "job not found", publicMessage(&ErrNotFound{Resource: "job"}))
}
