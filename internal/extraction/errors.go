package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText is returned when there is nothing to extract from.
	ErrEmptyText = errors.New("no text to extract from")
	// ErrPostingParse marks a posting whose model output could not be parsed. The caller
	// receives an empty posting alongside it and continues with a warning.
	ErrPostingParse = errors.New("job posting could not be parsed")
)

// APICallError represents a failed model call for one extraction pass
type APICallError struct {
	Pass  string
	Cause error
}

func (e *APICallError) Error() string {
	return fmt.Sprintf("extraction %s: API call failed: %v", e.Pass, e.Cause)
}

func (e *APICallError) Unwrap() error {
	return e.Cause
}

// ParseError represents model output that failed decoding or schema validation
type ParseError struct {
	Pass    string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction %s: parse error: %s: %v", e.Pass, e.Message, e.Cause)
	}
	return fmt.Sprintf("extraction %s: parse error: %s", e.Pass, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
