package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/internal/types"
	"github.com/smartclm/clm/pkg/logger"
)

// Accessor gives typed access to document metadata held in a DocumentStore.
//
// UpdateMetadata is a plain read-modify-write: two concurrent updates of the
// same document race and the last write wins.
type Accessor struct {
	store types.DocumentStore
	log   *logger.Logger
}

func NewAccessor(store types.DocumentStore, log *logger.Logger) *Accessor {
	return &Accessor{
		store: store,
		log:   logger.OrNop(log),
	}
}

// CreateDocument persists doc with md as its metadata. An empty ID is filled
// with a fresh UUID; DocType and Category default to the metadata's values.
func (a *Accessor) CreateDocument(ctx context.Context, doc *models.Document, md models.Metadata) error {
	raw, err := md.Raw()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	doc.Metadata = raw
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.DocType == "" {
		doc.DocType = string(md.Type)
	}
	if doc.Category == "" {
		doc.Category = md.Category
	}
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = models.StatusCompleted
	}
	if err := a.store.CreateDocument(ctx, doc); err != nil {
		return err
	}
	a.log.Debug("document created", "document_id", doc.ID, "type", md.Type)
	return nil
}

// GetMetadata returns the typed metadata of a document.
func (a *Accessor) GetMetadata(ctx context.Context, documentID string) (models.Metadata, error) {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return models.Metadata{}, err
	}
	return doc.Metadata.Decode()
}

// UpdateMetadata merges updates into the stored metadata at the top level and
// persists the result. Keys absent from updates are kept as they are. A merge
// that no longer decodes, such as a type change that leaves variables in the
// wrong shape, is rejected and nothing is written.
func (a *Accessor) UpdateMetadata(ctx context.Context, documentID string, updates Patch) error {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	merged, err := Merge(doc.Metadata, updates)
	if err != nil {
		return err
	}
	if _, err := merged.Decode(); err != nil {
		if !errors.Is(err, models.ErrMalformedMetadata) {
			err = fmt.Errorf("%w: %v", models.ErrMalformedMetadata, err)
		}
		return err
	}
	if err := a.store.SaveMetadata(ctx, documentID, merged); err != nil {
		return err
	}
	a.log.Debug("metadata updated", "document_id", documentID, "keys", len(updates))
	return nil
}

// QueryByType returns the documents whose metadata.type equals typeValue.
func (a *Accessor) QueryByType(ctx context.Context, typeValue string) ([]models.Document, error) {
	return a.store.ListByMetadataType(ctx, typeValue)
}

// QueryByExtractedField returns the documents whose extracted_info value at
// path satisfies pred. Documents missing any key on the path, or whose value
// the predicate cannot interpret, are left out. A nil pred only checks that
// the path exists.
func (a *Accessor) QueryByExtractedField(ctx context.Context, path []string, pred Predicate) ([]models.Document, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty extracted_info path", models.ErrMalformedMetadata)
	}
	candidates, err := a.store.ListWithExtractedPath(ctx, path)
	if err != nil {
		return nil, err
	}

	var matched []models.Document
	for _, doc := range candidates {
		info, err := extractedInfo(doc.Metadata)
		if err != nil {
			a.log.Debug("skipping document with unreadable extracted_info", "document_id", doc.ID, "error", err)
			continue
		}
		v, ok := Lookup(info, path)
		if !ok {
			continue
		}
		if pred == nil || pred(v) {
			matched = append(matched, doc)
		}
	}
	return matched, nil
}

// RenderDocument fills the document's template body with its own variables,
// overridden by values. In strict mode unresolved placeholders are an error,
// as are required standard-contract fields without a value.
func (a *Accessor) RenderDocument(ctx context.Context, documentID string, values map[string]string, strict bool) (string, error) {
	doc, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	md, err := doc.Metadata.Decode()
	if err != nil {
		return "", err
	}

	vars := map[string]string{}
	for k, v := range md.Values() {
		vars[k] = v
	}
	for k, v := range values {
		vars[k] = v
	}

	body := doc.HTMLContent
	if body == "" {
		body = doc.MarkdownContent
	}
	if !strict {
		return SubstituteVariables(body, vars), nil
	}
	if missing := MissingRequired(md.Fields(), vars); len(missing) > 0 {
		return "", fmt.Errorf("%w: required fields %v", models.ErrUnresolvedPlaceholder, missing)
	}
	return SubstituteStrict(body, vars)
}

// CompareVariables diffs the variables of two stored documents.
func (a *Accessor) CompareVariables(ctx context.Context, idA, idB string) (map[string]VariableDiff, error) {
	mdA, err := a.GetMetadata(ctx, idA)
	if err != nil {
		return nil, err
	}
	mdB, err := a.GetMetadata(ctx, idB)
	if err != nil {
		return nil, err
	}
	return DiffVariables(mdA.Values(), mdB.Values()), nil
}

// MissingRequired lists required field names that have no non-empty value.
func MissingRequired(fields []models.FieldDefinition, values map[string]string) []string {
	var missing []string
	for _, f := range fields {
		if f.Required && values[f.Name] == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func extractedInfo(md models.RawMetadata) (map[string]any, error) {
	raw, ok := md[models.KeyExtractedInfo]
	if !ok {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var info map[string]any
	if err := dec.Decode(&info); err != nil {
		return nil, err
	}
	return info, nil
}
