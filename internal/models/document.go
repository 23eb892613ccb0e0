package models

import "time"

// Processing states a Document moves through while it is converted, parsed
// and chunked.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Chunk types. Parents keep the whole article for context, children are the
// retrieval units.
const (
	ChunkParent = "parent"
	ChunkChild  = "child"
)

type User struct {
	ID         string
	ProviderID string
	Email      string
	Name       string
	Role       string
}

// Room groups the documents of one contract negotiation. DocumentCount is
// filled on reads and counts the room's live documents.
type Room struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	OwnerID       string     `json:"owner_id,omitempty"`
	DocumentCount int        `json:"document_count"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Document is a stored legal artifact. An empty RoomID marks a global
// document (laws, guidelines, standard contracts).
type Document struct {
	ID               string      `json:"id"`
	RoomID           string      `json:"room_id,omitempty"`
	Filename         string      `json:"filename"`
	DocType          string      `json:"doc_type"`
	Category         string      `json:"category,omitempty"`
	ProcessingStatus string      `json:"processing_status"`
	PageCount        int         `json:"page_count,omitempty"`
	Version          string      `json:"version,omitempty"`
	AutoTags         []string    `json:"auto_tags,omitempty"`
	HTMLContent      string      `json:"html_content,omitempty"`
	MarkdownContent  string      `json:"markdown_content,omitempty"`
	Metadata         RawMetadata `json:"metadata"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	DeletedAt        *time.Time  `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the document has been soft deleted.
func (d *Document) IsDeleted() bool {
	return d.DeletedAt != nil
}

type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Index      int            `json:"chunk_index"`
	Content    string         `json:"content"`
	ChunkType  string         `json:"chunk_type"`
	ParentID   string         `json:"parent_id,omitempty"`
	ChildID    string         `json:"child_id,omitempty"`
	Headers    [4]string      `json:"headers"`
	WordCount  int            `json:"word_count"`
	CharCount  int            `json:"char_count"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Embeddable reports whether the chunk takes part in similarity search.
// Children always do; a parent only when it was too short to be split.
func (c *Chunk) Embeddable() bool {
	if c.ChunkType == ChunkChild {
		return true
	}
	standalone, _ := c.Metadata["is_standalone"].(bool)
	return standalone
}

// ChunkMatch is a similarity search hit joined with its document.
type ChunkMatch struct {
	Chunk
	Filename string   `json:"filename"`
	DocType  string   `json:"doc_type"`
	Category string   `json:"category,omitempty"`
	RoomID   string   `json:"room_id,omitempty"`
	AutoTags []string `json:"auto_tags,omitempty"`
	Score    float64  `json:"score"`
}

// DocumentFilter narrows ListDocuments. Zero values mean "any".
type DocumentFilter struct {
	RoomID         string
	GlobalOnly     bool
	DocType        string
	Category       string
	Status         string
	IncludeDeleted bool
}

// SearchFilter narrows SearchChunks. With RoomID set, room documents are
// searched together with global ones.
type SearchFilter struct {
	RoomID   string
	DocTypes []string
	Limit    int
}

// ParseResult is what the document parser service returns for a PDF.
type ParseResult struct {
	MarkdownContent string `json:"markdown_content"`
	HTMLContent     string `json:"html_content"`
	PageCount       int    `json:"page_count"`
}
