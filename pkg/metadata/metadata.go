// Package metadata reads, builds and updates the JSON metadata object attached
// to every document, and answers type and extracted-field queries over it.
package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smartclm/clm/internal/models"
)

const (
	DefaultConfidence = 0.95
	DefaultEngine     = "smartclm"
	DefaultMethod     = "ai_extraction"
	SchemaVersion     = "1.0"
)

type createOptions struct {
	variables    models.Variables
	customFields map[string]any
	confidence   float64
	engine       string
	method       string
	version      string
	duration     time.Duration
	now          func() time.Time
}

// Option customizes CreateMetadata.
type Option func(*createOptions)

func WithVariables(v models.Variables) Option {
	return func(o *createOptions) { o.variables = v }
}

func WithCustomFields(fields map[string]any) Option {
	return func(o *createOptions) { o.customFields = fields }
}

func WithConfidence(score float64) Option {
	return func(o *createOptions) { o.confidence = score }
}

// WithEngine sets the extraction engine and method recorded in processing_info.
func WithEngine(engine, method string) Option {
	return func(o *createOptions) {
		o.engine = engine
		o.method = method
	}
}

func WithDuration(d time.Duration) Option {
	return func(o *createOptions) { o.duration = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *createOptions) { o.now = now }
}

// CreateMetadata assembles a complete metadata object. Absent variables and
// custom fields become empty mappings; processing_info is stamped with the
// current time and the extraction confidence.
func CreateMetadata(docType models.DocType, category string, extractedInfo map[string]any, opts ...Option) models.Metadata {
	o := createOptions{
		confidence: DefaultConfidence,
		engine:     DefaultEngine,
		method:     DefaultMethod,
		version:    SchemaVersion,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.variables == nil {
		o.variables = models.EmptyVariables(docType)
	}
	if o.customFields == nil {
		o.customFields = map[string]any{}
	}
	if extractedInfo == nil {
		extractedInfo = map[string]any{}
	}

	extractedAt := o.now().UTC()
	return models.Metadata{
		Type:          docType,
		Category:      category,
		Variables:     o.variables,
		ExtractedInfo: extractedInfo,
		ProcessingInfo: models.ProcessingInfo{
			ExtractedBy:      o.engine,
			ExtractedAt:      &extractedAt,
			ConfidenceScore:  o.confidence,
			ProcessingTime:   o.duration.Seconds(),
			ExtractionMethod: o.method,
			Version:          o.version,
		},
		CustomFields: o.customFields,
	}
}

// FieldSpec is the input to BuildFieldDefinitions. Optional members may be
// left at their zero values.
type FieldSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// BuildFieldDefinitions produces the variables payload of a standard contract.
func BuildFieldDefinitions(fields []FieldSpec) models.FieldDefinitions {
	defs := make([]models.FieldDefinition, 0, len(fields))
	for _, f := range fields {
		defs = append(defs, models.FieldDefinition{
			Name:        f.Name,
			Type:        f.Type,
			Required:    f.Required,
			Description: f.Description,
			Placeholder: f.Placeholder,
		})
	}
	return models.FieldDefinitions{Fields: defs}
}

// Patch is a partial metadata object. Each key replaces the same top-level key
// of the stored metadata as a whole.
type Patch map[string]any

// Merge applies a patch to a copy of base. Only top-level keys are touched:
// a nested object in the patch replaces the stored one, it is never merged
// into it.
func Merge(base models.RawMetadata, updates Patch) (models.RawMetadata, error) {
	merged := base.Clone()
	for key, value := range updates {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata key %q: %w", key, err)
		}
		merged[key] = raw
	}
	return merged, nil
}
