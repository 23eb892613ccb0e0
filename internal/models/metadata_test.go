package models_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/smartclm/clm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawMetadataDecode(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantType  models.DocType
		wantVars  models.Variables
		wantError error
	}{
		{
			name:     "contract values",
			input:    `{"type":"contract","variables":{"갑":"주식회사 A","금액":10000000,"자동갱신":true,"비고":null}}`,
			wantType: models.TypeContract,
			wantVars: models.TemplateValues{"갑": "주식회사 A", "금액": "10000000", "자동갱신": "true", "비고": ""},
		},
		{
			name:     "standard contract fields",
			input:    `{"type":"standard_contract","variables":{"fields":[{"name":"갑","type":"text","required":true}]}}`,
			wantType: models.TypeStandardContract,
			wantVars: models.FieldDefinitions{Fields: []models.FieldDefinition{{Name: "갑", Type: "text", Required: true}}},
		},
		{
			name:     "standard contract empty variables",
			input:    `{"type":"standard_contract","variables":{}}`,
			wantType: models.TypeStandardContract,
			wantVars: models.FieldDefinitions{Fields: []models.FieldDefinition{}},
		},
		{
			name:     "missing variables",
			input:    `{"type":"law"}`,
			wantType: models.TypeLaw,
			wantVars: models.TemplateValues{},
		},
		{
			name:      "standard contract without fields",
			input:     `{"type":"standard_contract","variables":{"갑":"A"}}`,
			wantError: models.ErrMalformedMetadata,
		},
		{
			name:      "field without type",
			input:     `{"type":"standard_contract","variables":{"fields":[{"name":"갑"}]}}`,
			wantError: models.ErrMalformedMetadata,
		},
		{
			name:      "nested variable value",
			input:     `{"type":"contract","variables":{"갑":{"name":"A"}}}`,
			wantError: models.ErrMalformedMetadata,
		},
		{
			name:      "variables not an object",
			input:     `{"type":"contract","variables":["a"]}`,
			wantError: models.ErrMalformedMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw models.RawMetadata
			require.NoError(t, json.Unmarshal([]byte(tt.input), &raw))

			md, err := raw.Decode()
			if tt.wantError != nil {
				assert.True(t, errors.Is(err, tt.wantError), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, md.Type)
			assert.Equal(t, tt.wantVars, md.Variables)
			assert.NotNil(t, md.ExtractedInfo)
			assert.NotNil(t, md.CustomFields)
		})
	}
}

func TestMetadataRawEmptyFacets(t *testing.T) {
	for _, docType := range []models.DocType{
		models.TypeContract,
		models.TypeStandardContract,
		models.TypeLaw,
		models.TypeLegalCase,
		models.TypeGuideline,
	} {
		t.Run(string(docType), func(t *testing.T) {
			md := models.Metadata{Type: docType, Variables: models.EmptyVariables(docType)}
			raw, err := md.Raw()
			require.NoError(t, err)
			assert.JSONEq(t, `{}`, string(raw[models.KeyVariables]))
			assert.JSONEq(t, `{}`, string(raw[models.KeyCustomFields]))
			assert.JSONEq(t, `{}`, string(raw[models.KeyExtractedInfo]))
			assert.Equal(t, string(docType), raw.Type())
		})
	}
}

func TestRawMetadataNull(t *testing.T) {
	var raw models.RawMetadata
	require.NoError(t, json.Unmarshal([]byte(`null`), &raw))
	assert.NotNil(t, raw)
	assert.Empty(t, raw)

	out, err := json.Marshal(models.RawMetadata(nil))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
}

func TestRawMetadataClone(t *testing.T) {
	raw := models.RawMetadata{"type": json.RawMessage(`"law"`)}
	clone := raw.Clone()
	clone["type"] = json.RawMessage(`"contract"`)
	assert.Equal(t, "law", raw.Type())
	assert.Equal(t, "contract", clone.Type())
}

func TestChunkEmbeddable(t *testing.T) {
	tests := []struct {
		name  string
		chunk models.Chunk
		want  bool
	}{
		{"child", models.Chunk{ChunkType: models.ChunkChild}, true},
		{"split parent", models.Chunk{ChunkType: models.ChunkParent}, false},
		{"standalone parent", models.Chunk{ChunkType: models.ChunkParent, Metadata: map[string]any{"is_standalone": true}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.chunk.Embeddable())
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := models.DocumentNotFound("abc")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Contains(t, err.Error(), "abc")
}

func TestDocTypeValid(t *testing.T) {
	for _, dt := range models.DocTypes {
		assert.True(t, dt.Valid(), dt)
	}
	assert.False(t, models.DocType("memo").Valid())
	assert.False(t, models.DocType("").Valid())
}
