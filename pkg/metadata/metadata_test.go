package metadata_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMetadata(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	t.Run("defaults", func(t *testing.T) {
		md := metadata.CreateMetadata(models.TypeLaw, "노동", map[string]any{"법령명": "근로기준법"},
			metadata.WithClock(func() time.Time { return fixed }))

		raw, err := md.Raw()
		require.NoError(t, err)
		assert.Equal(t, "law", raw.Type())
		assert.JSONEq(t, `{}`, string(raw[models.KeyVariables]))
		assert.JSONEq(t, `{}`, string(raw[models.KeyCustomFields]))
		assert.JSONEq(t, `{"법령명":"근로기준법"}`, string(raw[models.KeyExtractedInfo]))

		var info models.ProcessingInfo
		require.NoError(t, json.Unmarshal(raw[models.KeyProcessingInfo], &info))
		assert.Equal(t, metadata.DefaultConfidence, info.ConfidenceScore)
		assert.Equal(t, metadata.DefaultEngine, info.ExtractedBy)
		assert.Equal(t, metadata.SchemaVersion, info.Version)
		require.NotNil(t, info.ExtractedAt)
		assert.True(t, fixed.Equal(*info.ExtractedAt))
	})

	t.Run("empty variables for every type", func(t *testing.T) {
		for _, docType := range []models.DocType{
			models.TypeContract,
			models.TypeStandardContract,
			models.TypeLaw,
			models.TypeLegalCase,
			models.TypeGuideline,
		} {
			md := metadata.CreateMetadata(docType, "", nil)
			raw, err := md.Raw()
			require.NoError(t, err)
			assert.JSONEq(t, `{}`, string(raw[models.KeyVariables]), docType)
			assert.JSONEq(t, `{}`, string(raw[models.KeyExtractedInfo]), docType)
		}
	})

	t.Run("options", func(t *testing.T) {
		md := metadata.CreateMetadata(models.TypeContract, "임대차", nil,
			metadata.WithVariables(models.TemplateValues{"갑": "A"}),
			metadata.WithCustomFields(map[string]any{"owner": "legal"}),
			metadata.WithConfidence(0.5),
			metadata.WithEngine("manual", "review"),
			metadata.WithDuration(1500*time.Millisecond),
		)
		assert.Equal(t, models.TemplateValues{"갑": "A"}, md.Values())
		assert.Equal(t, "legal", md.CustomFields["owner"])
		assert.Equal(t, 0.5, md.ProcessingInfo.ConfidenceScore)
		assert.Equal(t, "manual", md.ProcessingInfo.ExtractedBy)
		assert.Equal(t, "review", md.ProcessingInfo.ExtractionMethod)
		assert.Equal(t, 1.5, md.ProcessingInfo.ProcessingTime)
	})

	t.Run("round trip", func(t *testing.T) {
		fields := metadata.BuildFieldDefinitions([]metadata.FieldSpec{{Name: "갑", Type: "text", Required: true}})
		md := metadata.CreateMetadata(models.TypeStandardContract, "용역", map[string]any{"계약목적": "개발"},
			metadata.WithVariables(fields))

		raw, err := md.Raw()
		require.NoError(t, err)
		back, err := raw.Decode()
		require.NoError(t, err)
		assert.Equal(t, md.Type, back.Type)
		assert.Equal(t, md.Category, back.Category)
		assert.Equal(t, md.Fields(), back.Fields())
		assert.Equal(t, "개발", back.ExtractedInfo["계약목적"])
	})
}

func TestBuildFieldDefinitions(t *testing.T) {
	defs := metadata.BuildFieldDefinitions([]metadata.FieldSpec{
		{Name: "갑", Type: "text", Required: true, Description: "발주자", Placeholder: "{{갑}}"},
		{Name: "금액", Type: "number"},
	})
	require.Len(t, defs.Fields, 2)
	assert.Equal(t, models.FieldDefinition{Name: "갑", Type: "text", Required: true, Description: "발주자", Placeholder: "{{갑}}"}, defs.Fields[0])
	assert.Equal(t, models.FieldDefinition{Name: "금액", Type: "number"}, defs.Fields[1])

	empty := metadata.BuildFieldDefinitions(nil)
	assert.NotNil(t, empty.Fields)
	assert.Empty(t, empty.Fields)
}

func TestMerge(t *testing.T) {
	base := models.RawMetadata{
		"type":           json.RawMessage(`"contract"`),
		"extracted_info": json.RawMessage(`{"계약금액":{"금액":"1,000","지급조건":"선급"},"계약목적":"임대"}`),
		"custom_fields":  json.RawMessage(`{"owner":"legal"}`),
	}

	merged, err := metadata.Merge(base, metadata.Patch{
		"extracted_info": map[string]any{"계약금액": map[string]any{"금액": "2,000"}},
		"category":       "임대차",
	})
	require.NoError(t, err)

	// The nested object is replaced, not merged.
	assert.JSONEq(t, `{"계약금액":{"금액":"2,000"}}`, string(merged["extracted_info"]))
	assert.JSONEq(t, `"임대차"`, string(merged["category"]))
	assert.JSONEq(t, `"contract"`, string(merged["type"]))
	assert.JSONEq(t, `{"owner":"legal"}`, string(merged["custom_fields"]))

	// base is untouched.
	assert.NotContains(t, base, "category")
	assert.Contains(t, string(base["extracted_info"]), "지급조건")
}

func TestMergeUnencodable(t *testing.T) {
	_, err := metadata.Merge(models.RawMetadata{}, metadata.Patch{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestExtractedView(t *testing.T) {
	md := models.Metadata{
		Type: models.TypeContract,
		ExtractedInfo: map[string]any{
			"계약당사자": []any{"A", "B"},
			"계약금액":  map[string]any{"금액": json.Number("10000000"), "지급조건": "월말"},
			"기타":    "ignored",
		},
	}
	view, err := metadata.ExtractedView(md)
	require.NoError(t, err)
	info, ok := view.(*metadata.ContractInfo)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, info.Parties)
	assert.Equal(t, "10000000", info.Amount.Amount)
	assert.Equal(t, "월말", info.Amount.PaymentTerms)

	law, err := metadata.ExtractedView(models.Metadata{Type: models.TypeLaw, ExtractedInfo: map[string]any{"법령명": "민법"}})
	require.NoError(t, err)
	assert.Equal(t, "민법", law.(*metadata.LawInfo).Name)

	other, err := metadata.ExtractedView(models.Metadata{Type: "memo", ExtractedInfo: map[string]any{"x": 1}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, other)
}
