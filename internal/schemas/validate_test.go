package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSchemasCompile(t *testing.T) {
	for _, name := range []string{EvidenceItems, Posting, IdentitySummary, TalkingPoints, ResumeData, Evaluation, CompanyResearch} {
		t.Run(name, func(t *testing.T) {
			_, err := load(name)
			require.NoError(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		doc     string
		wantErr bool
	}{
		{
			name:   "evidence items",
			schema: EvidenceItems,
			doc:    `{"items": [{"kind": "accomplishment", "text": "Cut deploy time by 40%", "work_history": "SRE at Acme"}]}`,
		},
		{
			name:   "empty evidence",
			schema: EvidenceItems,
			doc:    `{"items": []}`,
		},
		{
			name:    "unknown evidence kind",
			schema:  EvidenceItems,
			doc:     `{"items": [{"kind": "hobby", "text": "Chess"}]}`,
			wantErr: true,
		},
		{
			name:    "missing items",
			schema:  EvidenceItems,
			doc:     `{"evidence": []}`,
			wantErr: true,
		},
		{
			name:   "posting",
			schema: Posting,
			doc:    `{"title": "SRE", "company": "Acme", "must_have": [{"text": "Go", "category": "skill"}], "nice_to_have": [], "responsibilities": ["On-call"]}`,
		},
		{
			name:    "posting requirement without text",
			schema:  Posting,
			doc:     `{"must_have": [{"category": "skill"}]}`,
			wantErr: true,
		},
		{
			name:    "evaluation passed not boolean",
			schema:  Evaluation,
			doc:     `{"passed": "yes"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, []byte(tt.doc))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.schema, verr.Schema)
			assert.NotEmpty(t, verr.Errors)
		})
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	err := Validate("nope", []byte(`{}`))
	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, err.Error(), "nope.schema.json")
}

func TestValidate_MalformedDocument(t *testing.T) {
	assert.Error(t, Validate(Evaluation, []byte(`{ invalid json }`)))
}

func TestValidateJSONString(t *testing.T) {
	schema := `{"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}`
	assert.NoError(t, ValidateJSONString(schema, `{"name": "x"}`))

	err := ValidateJSONString(schema, `{"name": 3}`)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Errors[0].Field)
}
