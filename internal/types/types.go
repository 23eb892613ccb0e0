package types

import (
	"context"
	"io"

	"github.com/smartclm/clm/internal/models"
)

// Core interfaces
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	SaveMetadata(ctx context.Context, id string, md models.RawMetadata) error
	SetProcessingStatus(ctx context.Context, id string, status string) error
	ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	ListByMetadataType(ctx context.Context, docType string) ([]models.Document, error)
	ListWithExtractedPath(ctx context.Context, path []string) ([]models.Document, error)
	SoftDeleteDocument(ctx context.Context, id string) error
	RestoreDocument(ctx context.Context, id string) error

	SaveChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
	GetChunks(ctx context.Context, documentID string) ([]models.Chunk, error)
	SearchChunks(ctx context.Context, embedding []float32, filter models.SearchFilter) ([]models.ChunkMatch, error)

	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context, ownerID string) ([]models.Room, error)
	SoftDeleteRoom(ctx context.Context, id string) error

	Close()
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type Processor interface {
	Process(doc models.Document) ([]models.Chunk, error)
}

// Converter turns an office document into PDF.
type Converter interface {
	Convert(ctx context.Context, filename string, r io.Reader) ([]byte, error)
	Health(ctx context.Context) map[string]any
}

// Parser extracts markdown and HTML from a PDF.
type Parser interface {
	Analyze(ctx context.Context, filename string, r io.Reader) (*models.ParseResult, error)
	Health(ctx context.Context) map[string]any
}
