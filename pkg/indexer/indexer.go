// Package indexer runs documents through conversion, parsing, chunking and
// embedding, and answers similarity searches over the stored chunks.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/internal/types"
	"github.com/smartclm/clm/pkg/logger"
	"github.com/smartclm/clm/pkg/metadata"
)

// ErrNoEmbedder is returned by Search when no embedder is configured.
var ErrNoEmbedder = errors.New("no embedder configured")

type IndexerConfig struct {
	Store     types.DocumentStore
	Processor types.Processor
	Embedder  types.Embedder // optional; without it chunks are stored unembedded
	Converter types.Converter
	Parser    types.Parser
	BatchSize int
	Logger    *logger.Logger
}

type Indexer struct {
	config   IndexerConfig
	accessor *metadata.Accessor
	log      *logger.Logger
}

func NewWithConfig(config IndexerConfig) (*Indexer, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("indexer needs a document store")
	}
	if config.Processor == nil {
		return nil, fmt.Errorf("indexer needs a processor")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	log := logger.OrNop(config.Logger)
	return &Indexer{
		config:   config,
		accessor: metadata.NewAccessor(config.Store, log),
		log:      log,
	}, nil
}

// Progress reports embedded chunks out of the total for a document.
type Progress func(done, total int)

// IngestRequest describes one uploaded file.
type IngestRequest struct {
	Filename string
	Content  io.Reader
	RoomID   string
	Metadata models.Metadata
	AutoTags []string
	Version  string
}

// Ingest stores a new document and indexes it. Markdown, text and HTML files
// are read as they are; PDFs go to the parser; anything else is converted to
// PDF first. The document keeps status "failed" if indexing breaks after it
// was stored.
func (ix *Indexer) Ingest(ctx context.Context, req IngestRequest, progress Progress) (*models.Document, error) {
	data, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.Filename, err)
	}

	doc := &models.Document{
		RoomID:           req.RoomID,
		Filename:         filepath.Base(req.Filename),
		ProcessingStatus: models.StatusProcessing,
		AutoTags:         req.AutoTags,
		Version:          req.Version,
	}
	if err := ix.extract(ctx, doc, data); err != nil {
		return nil, err
	}

	md := req.Metadata
	if md.Type == "" {
		md.Type = models.TypeContract
	}
	if md.Variables == nil {
		md.Variables = models.EmptyVariables(md.Type)
	}
	if doc.Version == "" && md.Type == models.TypeContract && doc.RoomID != "" {
		if doc.Version, err = ix.nextContractVersion(ctx, doc.RoomID); err != nil {
			return nil, err
		}
	}
	if err := ix.accessor.CreateDocument(ctx, doc, md); err != nil {
		return nil, err
	}

	if _, err := ix.IndexDocument(ctx, doc.ID, progress); err != nil {
		doc.ProcessingStatus = models.StatusFailed
		return doc, err
	}
	doc.ProcessingStatus = models.StatusCompleted
	return doc, nil
}

// nextContractVersion numbers a new contract after the latest live contract
// of the room: v1 for the first, then v2, v3 and so on.
func (ix *Indexer) nextContractVersion(ctx context.Context, roomID string) (string, error) {
	docs, err := ix.config.Store.ListDocuments(ctx, models.DocumentFilter{
		RoomID:  roomID,
		DocType: string(models.TypeContract),
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up contract versions: %w", err)
	}
	if len(docs) == 0 {
		return "v1", nil
	}
	return IncrementVersion(docs[0].Version), nil
}

// IncrementVersion turns "vN" into "vN+1". An empty label counts as v1; any
// other label restarts the numbering at v1.
func IncrementVersion(current string) string {
	if current == "" {
		current = "v1"
	}
	n, err := strconv.Atoi(strings.TrimPrefix(current, "v"))
	if !strings.HasPrefix(current, "v") || err != nil || n < 1 {
		return "v1"
	}
	return "v" + strconv.Itoa(n+1)
}

func (ix *Indexer) extract(ctx context.Context, doc *models.Document, data []byte) error {
	switch strings.ToLower(filepath.Ext(doc.Filename)) {
	case ".md", ".markdown", ".txt":
		doc.MarkdownContent = string(data)
		return nil
	case ".html", ".htm":
		doc.HTMLContent = string(data)
		return nil
	case ".pdf":
	default:
		if ix.config.Converter == nil {
			return fmt.Errorf("cannot convert %s: no converter configured", doc.Filename)
		}
		pdf, err := ix.config.Converter.Convert(ctx, doc.Filename, bytes.NewReader(data))
		if err != nil {
			return err
		}
		data = pdf
	}

	if ix.config.Parser == nil {
		return fmt.Errorf("cannot parse %s: no parser configured", doc.Filename)
	}
	result, err := ix.config.Parser.Analyze(ctx, pdfName(doc.Filename), bytes.NewReader(data))
	if err != nil {
		return err
	}
	doc.MarkdownContent = result.MarkdownContent
	doc.HTMLContent = result.HTMLContent
	doc.PageCount = result.PageCount
	return nil
}

func pdfName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ".pdf"
}

// IndexDocument rebuilds the chunks of a stored document and returns how many
// were written.
func (ix *Indexer) IndexDocument(ctx context.Context, documentID string, progress Progress) (int, error) {
	doc, err := ix.config.Store.GetDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	n, err := ix.index(ctx, doc, progress)
	status := models.StatusCompleted
	if err != nil {
		status = models.StatusFailed
	}
	if serr := ix.config.Store.SetProcessingStatus(ctx, documentID, status); serr != nil && err == nil {
		err = serr
	}
	return n, err
}

func (ix *Indexer) index(ctx context.Context, doc *models.Document, progress Progress) (int, error) {
	chunks, err := ix.config.Processor.Process(*doc)
	if err != nil {
		return 0, err
	}
	if err := ix.embed(ctx, chunks, progress); err != nil {
		return 0, err
	}
	if err := ix.config.Store.SaveChunks(ctx, doc.ID, chunks); err != nil {
		return 0, err
	}
	ix.log.Info("document indexed", "document_id", doc.ID, "chunks", len(chunks))
	return len(chunks), nil
}

func (ix *Indexer) embed(ctx context.Context, chunks []models.Chunk, progress Progress) error {
	var targets []int
	for i := range chunks {
		if chunks[i].Embeddable() {
			targets = append(targets, i)
		}
	}
	if ix.config.Embedder == nil {
		ix.log.Warn("no embedder configured, chunks stored without embeddings", "chunks", len(targets))
		return nil
	}

	for start := 0; start < len(targets); start += ix.config.BatchSize {
		end := min(start+ix.config.BatchSize, len(targets))
		texts := make([]string, 0, end-start)
		for _, idx := range targets[start:end] {
			texts = append(texts, embeddingText(chunks[idx]))
		}

		vectors, err := ix.config.Embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for k, idx := range targets[start:end] {
			chunks[idx].Embedding = vectors[k]
		}
		if progress != nil {
			progress(end, len(targets))
		}
	}
	return nil
}

// embeddingText prefixes chunk content with its headers so an article's title
// contributes to every child of that article.
func embeddingText(c models.Chunk) string {
	var parts []string
	for _, h := range c.Headers {
		if h != "" && (len(parts) == 0 || parts[len(parts)-1] != h) {
			parts = append(parts, h)
		}
	}
	parts = append(parts, c.Content)
	return strings.Join(parts, "\n")
}

// SearchResult is a similarity hit. For a child chunk ParentContent holds the
// full text of the section it was cut from.
type SearchResult struct {
	models.ChunkMatch
	ParentContent string `json:"parent_content,omitempty"`
}

func (ix *Indexer) Search(ctx context.Context, query string, filter models.SearchFilter) ([]SearchResult, error) {
	if ix.config.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	vectors, err := ix.config.Embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for the query", len(vectors))
	}

	matches, err := ix.config.Store.SearchChunks(ctx, vectors[0], filter)
	if err != nil {
		return nil, err
	}

	parents := map[string]map[string]string{}
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		r := SearchResult{ChunkMatch: m}
		if m.ChunkType == models.ChunkChild && m.ParentID != "" {
			byID, ok := parents[m.DocumentID]
			if !ok {
				byID, err = ix.parentContents(ctx, m.DocumentID)
				if err != nil {
					return nil, err
				}
				parents[m.DocumentID] = byID
			}
			r.ParentContent = byID[m.ParentID]
		}
		results = append(results, r)
	}
	return results, nil
}

func (ix *Indexer) parentContents(ctx context.Context, documentID string) (map[string]string, error) {
	chunks, err := ix.config.Store.GetChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, c := range chunks {
		if c.ChunkType == models.ChunkParent {
			out[c.ID] = c.Content
		}
	}
	return out, nil
}

// Health collects the health documents of the configured collaborators.
func (ix *Indexer) Health(ctx context.Context) map[string]any {
	out := map[string]any{}
	if ix.config.Converter != nil {
		out["doc_converter"] = ix.config.Converter.Health(ctx)
	}
	if ix.config.Parser != nil {
		out["doc_parser"] = ix.config.Parser.Health(ctx)
	}
	return out
}

// Accessor exposes the metadata accessor over the indexer's store.
func (ix *Indexer) Accessor() *metadata.Accessor {
	return ix.accessor
}

// Document returns a stored document. Soft deleted documents are not found.
func (ix *Indexer) Document(ctx context.Context, id string) (*models.Document, error) {
	return ix.config.Store.GetDocument(ctx, id)
}

// DocumentView is a document with its extracted_info decoded into the typed
// view for its document type.
type DocumentView struct {
	*models.Document
	Extracted any `json:"extracted,omitempty"`
}

// View returns a document with its typed extracted_info. Metadata that does
// not decode leaves Extracted empty.
func (ix *Indexer) View(ctx context.Context, id string) (*DocumentView, error) {
	doc, err := ix.config.Store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &DocumentView{Document: doc}
	md, err := doc.Metadata.Decode()
	if err == nil {
		view.Extracted, err = metadata.ExtractedView(md)
	}
	if err != nil {
		ix.log.Warn("extracted_info has no typed view", "document_id", id, "error", err)
	}
	return view, nil
}

func (ix *Indexer) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	return ix.config.Store.ListDocuments(ctx, filter)
}

// Delete soft deletes a document. Its chunks stay stored but drop out of
// search until it is restored.
func (ix *Indexer) Delete(ctx context.Context, id string) error {
	if err := ix.config.Store.SoftDeleteDocument(ctx, id); err != nil {
		return err
	}
	ix.log.Info("document deleted", "document_id", id)
	return nil
}

func (ix *Indexer) Restore(ctx context.Context, id string) error {
	if err := ix.config.Store.RestoreDocument(ctx, id); err != nil {
		return err
	}
	ix.log.Info("document restored", "document_id", id)
	return nil
}
