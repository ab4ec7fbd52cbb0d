package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Event is a trigger that starts one pipeline run. The set of implementations
// is closed: ResumeEvent, StoryEvent, OpportunityEvent, TailorEvent.
type Event interface {
	Type() JobType
	Job() uuid.UUID
	Owner() uuid.UUID
	isEvent()
}

// ResumeEvent starts a resume ingestion.
type ResumeEvent struct {
	JobID           uuid.UUID `json:"jobId" validate:"required"`
	UserID          uuid.UUID `json:"userId" validate:"required"`
	Filename        string    `json:"filename" validate:"required,max=255"`
	StorageLocation string    `json:"storageLocation" validate:"required"`
}

// StoryEvent starts a story ingestion.
type StoryEvent struct {
	JobID       uuid.UUID `json:"jobId" validate:"required"`
	UserID      uuid.UUID `json:"userId" validate:"required"`
	Text        string    `json:"text" validate:"required"`
	ContentHash string    `json:"contentHash" validate:"required,len=64,hexadecimal"`
}

// OpportunityEvent starts a job posting ingestion. One of URL or Description is required.
type OpportunityEvent struct {
	JobID       uuid.UUID `json:"jobId" validate:"required"`
	UserID      uuid.UUID `json:"userId" validate:"required"`
	URL         string    `json:"url,omitempty" validate:"omitempty,url"`
	Description string    `json:"description,omitempty" validate:"required_without=URL"`
}

// TailorEvent starts a tailoring run.
type TailorEvent struct {
	JobID         uuid.UUID `json:"jobId" validate:"required"`
	UserID        uuid.UUID `json:"userId" validate:"required"`
	OpportunityID uuid.UUID `json:"opportunityId" validate:"required"`
	Regenerate    bool      `json:"regenerate"`
}

func (ResumeEvent) Type() JobType      { return TypeResume }
func (StoryEvent) Type() JobType       { return TypeStory }
func (OpportunityEvent) Type() JobType { return TypeOpportunity }
func (TailorEvent) Type() JobType      { return TypeTailor }

func (e ResumeEvent) Job() uuid.UUID      { return e.JobID }
func (e StoryEvent) Job() uuid.UUID       { return e.JobID }
func (e OpportunityEvent) Job() uuid.UUID { return e.JobID }
func (e TailorEvent) Job() uuid.UUID      { return e.JobID }

func (e ResumeEvent) Owner() uuid.UUID      { return e.UserID }
func (e StoryEvent) Owner() uuid.UUID       { return e.UserID }
func (e OpportunityEvent) Owner() uuid.UUID { return e.UserID }
func (e TailorEvent) Owner() uuid.UUID      { return e.UserID }

func (ResumeEvent) isEvent()      {}
func (StoryEvent) isEvent()       {}
func (OpportunityEvent) isEvent() {}
func (TailorEvent) isEvent()      {}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// uuid.UUID is an array type; treat the zero value as missing.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if id, ok := field.Interface().(uuid.UUID); ok {
			if id == uuid.Nil {
				return nil
			}
			return id.String()
		}
		return nil
	}, uuid.UUID{})
	return v
}

// ValidationError lists the invalid fields of a trigger event.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trigger event: %s", strings.Join(e.Fields, ", "))
}

// Validate checks the event's required fields.
func Validate(e Event) error {
	if e == nil {
		return &ValidationError{Fields: []string{"event"}}
	}
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return &ValidationError{Fields: fields}
		}
		return err
	}
	return nil
}

// MarshalEvent encodes an event for the job row's input column.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes a stored input payload for the given job type.
func UnmarshalEvent(t JobType, raw []byte) (Event, error) {
	switch t {
	case TypeResume:
		var e ResumeEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode resume event: %w", err)
		}
		return e, nil
	case TypeStory:
		var e StoryEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode story event: %w", err)
		}
		return e, nil
	case TypeOpportunity:
		var e OpportunityEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode opportunity event: %w", err)
		}
		return e, nil
	case TypeTailor:
		var e TailorEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("failed to decode tailor event: %w", err)
		}
		return e, nil
	}
	return nil, fmt.Errorf("unknown job type %q", t)
}
