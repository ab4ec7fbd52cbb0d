// Package schemas validates structured model output against embedded JSON Schemas.
package schemas

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed *.schema.json
var schemaFiles embed.FS

// Schema names
const (
	EvidenceItems   = "evidence_items"
	Posting         = "posting"
	IdentitySummary = "identity_summary"
	TalkingPoints   = "talking_points"
	ResumeData      = "resume_data"
	Evaluation      = "evaluation"
	CompanyResearch = "company_research"
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	if ve.Schema != "" {
		sb.WriteString(ve.Schema)
		sb.WriteString(" ")
	}
	sb.WriteString("validation failed:")
	for i, err := range ve.Errors {
		fmt.Fprintf(&sb, " %d. %s: %s;", i+1, err.Field, err.Message)
	}
	return strings.TrimSuffix(sb.String(), ";")
}

var (
	compiledMu sync.Mutex
	compiled   = make(map[string]*gojsonschema.Schema)
)

func load(name string) (*gojsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}

	path := name + ".schema.json"
	data, err := schemaFiles.ReadFile(path)
	if err != nil {
		return nil, &SchemaLoadError{Path: path, Message: "schema not embedded", Cause: err}
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &SchemaLoadError{Path: path, Message: "invalid schema", Cause: err}
	}
	compiled[name] = s
	return s, nil
}

// Validate checks a JSON document against the named embedded schema.
func Validate(name string, doc []byte) error {
	s, err := load(name)
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to read %s document: %w", name, err)
	}
	return toValidationError(name, result)
}

// ValidateJSONString validates JSON string content against schema string content
func ValidateJSONString(schemaContent, jsonContent string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaContent)
	documentLoader := gojsonschema.NewStringLoader(jsonContent)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &SchemaLoadError{
			Path:    "(string schema)",
			Message: "schema validation failed during load",
			Cause:   err,
		}
	}
	return toValidationError("", result)
}

func toValidationError(name string, result *gojsonschema.Result) error {
	if result.Valid() {
		return nil
	}
	validationErr := &ValidationError{
		Schema: name,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
