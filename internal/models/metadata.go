package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DocType is the tag stored under metadata.type. It selects the shape of the
// variables facet.
type DocType string

const (
	TypeContract         DocType = "contract"
	TypeStandardContract DocType = "standard_contract"
	TypeLaw              DocType = "law"
	TypeLegalCase        DocType = "legal_case"
	TypeGuideline        DocType = "guideline"
)

// DocTypes lists the recognized document types.
var DocTypes = []DocType{TypeContract, TypeStandardContract, TypeLaw, TypeLegalCase, TypeGuideline}

func (t DocType) Valid() bool {
	for _, known := range DocTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Recognized top-level metadata keys.
const (
	KeyType           = "type"
	KeyCategory       = "category"
	KeyVariables      = "variables"
	KeyExtractedInfo  = "extracted_info"
	KeyProcessingInfo = "processing_info"
	KeyCustomFields   = "custom_fields"
)

// RawMetadata is the persisted metadata object. Values stay as raw JSON so a
// top-level merge never rewrites nested content it does not replace.
type RawMetadata map[string]json.RawMessage

func (r RawMetadata) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]json.RawMessage(r))
}

func (r *RawMetadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = RawMetadata{}
		return nil
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = RawMetadata(m)
	return nil
}

// Clone returns a copy that can be modified without touching r.
func (r RawMetadata) Clone() RawMetadata {
	out := make(RawMetadata, len(r))
	for k, v := range r {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Type returns metadata.type, or "" when absent or not a string.
func (r RawMetadata) Type() string {
	var t string
	if raw, ok := r[KeyType]; ok {
		_ = json.Unmarshal(raw, &t)
	}
	return t
}

// Decode parses the raw object into its typed form.
func (r RawMetadata) Decode() (Metadata, error) {
	var md Metadata
	data, err := r.MarshalJSON()
	if err != nil {
		return md, err
	}
	err = json.Unmarshal(data, &md)
	return md, err
}

// Metadata is the typed view of a document's metadata object: a shared
// envelope plus a variables payload whose variant depends on Type.
type Metadata struct {
	Type           DocType
	Category       string
	Variables      Variables
	ExtractedInfo  map[string]any
	ProcessingInfo ProcessingInfo
	CustomFields   map[string]any
}

// Variables is either TemplateValues or FieldDefinitions.
type Variables interface {
	variables()
}

// TemplateValues maps placeholder names to substitution values.
type TemplateValues map[string]string

func (TemplateValues) variables() {}

// FieldDefinitions describes the input fields of a standard contract form.
type FieldDefinitions struct {
	Fields []FieldDefinition `json:"fields"`
}

func (FieldDefinitions) variables() {}

type FieldDefinition struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Placeholder string `json:"placeholder"`
}

// ProcessingInfo records how and when extracted_info was produced.
type ProcessingInfo struct {
	ExtractedBy      string     `json:"extracted_by,omitempty"`
	ExtractedAt      *time.Time `json:"extracted_at,omitempty"`
	ConfidenceScore  float64    `json:"confidence_score,omitempty"`
	ProcessingTime   float64    `json:"processing_time,omitempty"`
	ExtractionMethod string     `json:"extraction_method,omitempty"`
	Version          string     `json:"version,omitempty"`
}

type metadataJSON struct {
	Type           DocType         `json:"type"`
	Category       string          `json:"category"`
	Variables      json.RawMessage `json:"variables"`
	ExtractedInfo  map[string]any  `json:"extracted_info"`
	ProcessingInfo ProcessingInfo  `json:"processing_info"`
	CustomFields   map[string]any  `json:"custom_fields"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	vars, err := marshalVariables(m.Variables)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataJSON{
		Type:           m.Type,
		Category:       m.Category,
		Variables:      vars,
		ExtractedInfo:  nonNil(m.ExtractedInfo),
		ProcessingInfo: m.ProcessingInfo,
		CustomFields:   nonNil(m.CustomFields),
	})
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var aux metadataJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&aux); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	vars, err := decodeVariables(aux.Type, aux.Variables)
	if err != nil {
		return err
	}
	*m = Metadata{
		Type:           aux.Type,
		Category:       aux.Category,
		Variables:      vars,
		ExtractedInfo:  nonNil(aux.ExtractedInfo),
		ProcessingInfo: aux.ProcessingInfo,
		CustomFields:   nonNil(aux.CustomFields),
	}
	return nil
}

// Raw converts the typed metadata to its persisted form.
func (m Metadata) Raw() (RawMetadata, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var raw RawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Fields returns the field definitions of a standard contract, or nil for any
// other variables variant.
func (m Metadata) Fields() []FieldDefinition {
	if fd, ok := m.Variables.(FieldDefinitions); ok {
		return fd.Fields
	}
	return nil
}

// Values returns the flat substitution values, or an empty map when the
// variables facet holds field definitions.
func (m Metadata) Values() TemplateValues {
	if tv, ok := m.Variables.(TemplateValues); ok && tv != nil {
		return tv
	}
	return TemplateValues{}
}

func marshalVariables(v Variables) (json.RawMessage, error) {
	switch vv := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case TemplateValues:
		if vv == nil {
			return json.RawMessage("{}"), nil
		}
		return json.Marshal(map[string]string(vv))
	case FieldDefinitions:
		// An empty form is stored as the empty mapping, like any other
		// absent variables facet.
		if len(vv.Fields) == 0 {
			return json.RawMessage("{}"), nil
		}
		return json.Marshal(vv)
	default:
		return nil, fmt.Errorf("%w: unknown variables variant %T", ErrMalformedMetadata, v)
	}
}

func decodeVariables(t DocType, raw json.RawMessage) (Variables, error) {
	obj := map[string]json.RawMessage{}
	if len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: variables must be an object", ErrMalformedMetadata)
		}
	}

	if t == TypeStandardContract {
		if len(obj) == 0 {
			return FieldDefinitions{Fields: []FieldDefinition{}}, nil
		}
		fieldsRaw, ok := obj["fields"]
		if !ok {
			return nil, fmt.Errorf("%w: standard_contract variables without fields", ErrMalformedMetadata)
		}
		var fields []FieldDefinition
		if err := json.Unmarshal(fieldsRaw, &fields); err != nil {
			return nil, fmt.Errorf("%w: fields must be a list of field definitions", ErrMalformedMetadata)
		}
		for i, f := range fields {
			if f.Name == "" || f.Type == "" {
				return nil, fmt.Errorf("%w: field %d lacks name or type", ErrMalformedMetadata, i)
			}
		}
		if fields == nil {
			fields = []FieldDefinition{}
		}
		return FieldDefinitions{Fields: fields}, nil
	}

	values := make(TemplateValues, len(obj))
	for k, v := range obj {
		s, err := scalarString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: variable %q: %v", ErrMalformedMetadata, k, err)
		}
		values[k] = s
	}
	return values, nil
}

// scalarString renders a JSON scalar as substitution text.
func scalarString(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch vv := v.(type) {
	case nil:
		return "", nil
	case string:
		return vv, nil
	case json.Number:
		return vv.String(), nil
	case bool:
		return strconv.FormatBool(vv), nil
	default:
		return "", fmt.Errorf("value must be a scalar, got %T", v)
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// EmptyVariables returns the empty variables variant for a document type.
func EmptyVariables(t DocType) Variables {
	if t == TypeStandardContract {
		return FieldDefinitions{Fields: []FieldDefinition{}}
	}
	return TemplateValues{}
}
