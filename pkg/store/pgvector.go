package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/internal/types"
	"github.com/smartclm/clm/pkg/logger"
)

var _ types.DocumentStore = (*VectorStore)(nil)

type VectorStoreConfig struct {
	ConnString    string
	DocumentTable string
	ChunkTable    string
	RoomTable     string
	VectorDim     int
	SearchLimit   int
	Logger        *logger.Logger
}

// VectorStore keeps documents and their chunks in PostgreSQL. Metadata is a
// JSONB column; chunk embeddings use the pgvector extension.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	log    *logger.Logger
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.DocumentTable == "" {
		config.DocumentTable = "documents"
	}
	if config.ChunkTable == "" {
		config.ChunkTable = "chunks"
	}
	if config.RoomTable == "" {
		config.RoomTable = "rooms"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		log:    logger.OrNop(config.Logger),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	docs, chunks, rooms := vs.config.DocumentTable, vs.config.ChunkTable, vs.config.RoomTable
	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			room_id TEXT,
			filename TEXT NOT NULL DEFAULT '',
			doc_type TEXT NOT NULL DEFAULT '',
			category TEXT,
			processing_status TEXT NOT NULL DEFAULT 'completed',
			page_count INTEGER NOT NULL DEFAULT 0,
			version TEXT,
			auto_tags JSONB NOT NULL DEFAULT '[]',
			html_content TEXT,
			markdown_content TEXT,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		)`, docs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING GIN (metadata)`, docs, docs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_type_idx ON %s ((metadata->>'type'))`, docs, docs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_room_idx ON %s (room_id)`, docs, docs),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			chunk_type TEXT NOT NULL DEFAULT 'child',
			parent_id TEXT,
			child_id TEXT,
			header_1 TEXT,
			header_2 TEXT,
			header_3 TEXT,
			header_4 TEXT,
			word_count INTEGER NOT NULL DEFAULT 0,
			char_count INTEGER NOT NULL DEFAULT 0,
			embedding vector(%d),
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, chunks, docs, vs.config.VectorDim),
		fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, chunks, chunks),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			owner_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		)`, rooms),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_owner_idx ON %s (owner_id)`, rooms, rooms),
	}

	for _, stmt := range statements {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

const documentColumns = `id, COALESCE(room_id, ''), filename, doc_type, COALESCE(category, ''),
	processing_status, page_count, COALESCE(version, ''), auto_tags,
	COALESCE(html_content, ''), COALESCE(markdown_content, ''), metadata,
	created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (models.Document, error) {
	var doc models.Document
	var tags, meta []byte
	err := row.Scan(
		&doc.ID,
		&doc.RoomID,
		&doc.Filename,
		&doc.DocType,
		&doc.Category,
		&doc.ProcessingStatus,
		&doc.PageCount,
		&doc.Version,
		&tags,
		&doc.HTMLContent,
		&doc.MarkdownContent,
		&meta,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&doc.DeletedAt,
	)
	if err != nil {
		return doc, err
	}
	if err := decodeDocumentJSON(&doc, tags, meta); err != nil {
		return doc, err
	}
	return doc, nil
}

func (vs *VectorStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	meta, tags, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, room_id, filename, doc_type, category, processing_status,
			page_count, version, auto_tags, html_content, markdown_content, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		vs.config.DocumentTable)

	err = vs.pool.QueryRow(ctx, query,
		doc.ID,
		nullable(doc.RoomID),
		sanitizeUTF8(doc.Filename),
		doc.DocType,
		nullable(doc.Category),
		doc.ProcessingStatus,
		doc.PageCount,
		nullable(doc.Version),
		tags,
		nullable(sanitizeUTF8(doc.HTMLContent)),
		nullable(sanitizeUTF8(doc.MarkdownContent)),
		meta,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (vs *VectorStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND deleted_at IS NULL`,
		documentColumns, vs.config.DocumentTable)

	doc, err := scanDocument(vs.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, models.DocumentNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// SaveMetadata replaces the metadata object and refreshes the doc_type and
// category columns from it.
func (vs *VectorStore) SaveMetadata(ctx context.Context, id string, md models.RawMetadata) error {
	meta, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE %s SET metadata = $2::jsonb,
			doc_type = COALESCE($2::jsonb->>'type', doc_type),
			category = NULLIF($2::jsonb->>'category', ''),
			updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		vs.config.DocumentTable)

	tag, err := vs.pool.Exec(ctx, query, id, meta)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.DocumentNotFound(id)
	}
	return nil
}

func (vs *VectorStore) SetProcessingStatus(ctx context.Context, id string, status string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET processing_status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		vs.config.DocumentTable)

	tag, err := vs.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.DocumentNotFound(id)
	}
	return nil
}

func (vs *VectorStore) ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.GlobalOnly {
		where = append(where, "room_id IS NULL")
	} else if filter.RoomID != "" {
		add("room_id = $%d", filter.RoomID)
	}
	if filter.DocType != "" {
		add("doc_type = $%d", filter.DocType)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Status != "" {
		add("processing_status = $%d", filter.Status)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, documentColumns, vs.config.DocumentTable)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	return vs.queryDocuments(ctx, query, args...)
}

func (vs *VectorStore) ListByMetadataType(ctx context.Context, docType string) ([]models.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE deleted_at IS NULL AND metadata->>'type' = $1
		ORDER BY created_at DESC`,
		documentColumns, vs.config.DocumentTable)

	return vs.queryDocuments(ctx, query, docType)
}

// ListWithExtractedPath returns documents whose extracted_info contains the
// key path. The value itself is not inspected here.
func (vs *VectorStore) ListWithExtractedPath(ctx context.Context, path []string) ([]models.Document, error) {
	jsonPath := append([]string{models.KeyExtractedInfo}, path...)
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE deleted_at IS NULL AND metadata #> $1 IS NOT NULL
		ORDER BY created_at DESC`,
		documentColumns, vs.config.DocumentTable)

	return vs.queryDocuments(ctx, query, jsonPath)
}

func (vs *VectorStore) queryDocuments(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (vs *VectorStore) SoftDeleteDocument(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		vs.config.DocumentTable)
	return vs.execOne(ctx, query, id)
}

func (vs *VectorStore) RestoreDocument(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = NULL WHERE id = $1 AND deleted_at IS NOT NULL`,
		vs.config.DocumentTable)
	return vs.execOne(ctx, query, id)
}

func (vs *VectorStore) execOne(ctx context.Context, query, id string) error {
	tag, err := vs.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.DocumentNotFound(id)
	}
	return nil
}

// SaveChunks replaces all chunks of a document in one transaction.
func (vs *VectorStore) SaveChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, vs.config.ChunkTable), documentID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, chunk_index, content, chunk_type, parent_id, child_id,
			header_1, header_2, header_3, header_4, word_count, char_count, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		vs.config.ChunkTable)

	for _, c := range chunks {
		meta, err := json.Marshal(nonNilMap(c.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}
		_, err = tx.Exec(ctx, stmt,
			c.ID,
			documentID,
			c.Index,
			sanitizeUTF8(c.Content),
			c.ChunkType,
			nullable(c.ParentID),
			nullable(c.ChildID),
			nullable(c.Headers[0]),
			nullable(c.Headers[1]),
			nullable(c.Headers[2]),
			nullable(c.Headers[3]),
			c.WordCount,
			c.CharCount,
			embedding,
			meta,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	vs.log.Debug("chunks stored", "document_id", documentID, "count", len(chunks))
	return nil
}

const chunkColumns = `c.id, c.document_id, c.chunk_index, c.content, c.chunk_type,
	COALESCE(c.parent_id, ''), COALESCE(c.child_id, ''),
	COALESCE(c.header_1, ''), COALESCE(c.header_2, ''), COALESCE(c.header_3, ''), COALESCE(c.header_4, ''),
	c.word_count, c.char_count, c.metadata`

func chunkDest(c *models.Chunk, meta *[]byte) []any {
	return []any{
		&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.ChunkType,
		&c.ParentID, &c.ChildID,
		&c.Headers[0], &c.Headers[1], &c.Headers[2], &c.Headers[3],
		&c.WordCount, &c.CharCount, meta,
	}
}

func (vs *VectorStore) GetChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s c WHERE c.document_id = $1 ORDER BY c.chunk_index`,
		chunkColumns, vs.config.ChunkTable)

	rows, err := vs.pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		var meta []byte
		if err := rows.Scan(chunkDest(&c, &meta)...); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchChunks ranks chunks by cosine similarity to embedding. Without a room
// only global documents are searched; with one, the room's documents join them.
func (vs *VectorStore) SearchChunks(ctx context.Context, embedding []float32, filter models.SearchFilter) ([]models.ChunkMatch, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = vs.config.SearchLimit
	}

	args := []any{pgvector.NewVector(embedding)}
	where := []string{"c.embedding IS NOT NULL", "d.deleted_at IS NULL"}
	if filter.RoomID != "" {
		args = append(args, filter.RoomID)
		where = append(where, fmt.Sprintf("(d.room_id IS NULL OR d.room_id = $%d)", len(args)))
	} else {
		where = append(where, "d.room_id IS NULL")
	}
	if len(filter.DocTypes) > 0 {
		args = append(args, filter.DocTypes)
		where = append(where, fmt.Sprintf("d.doc_type = ANY($%d)", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s, d.filename, d.doc_type, COALESCE(d.category, ''), COALESCE(d.room_id, ''), d.auto_tags,
			1 - (c.embedding <=> $1) AS score
		FROM %s c
		JOIN %s d ON c.document_id = d.id
		WHERE %s
		ORDER BY c.embedding <=> $1
		LIMIT $%d`,
		chunkColumns, vs.config.ChunkTable, vs.config.DocumentTable,
		strings.Join(where, " AND "), len(args))

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var matches []models.ChunkMatch
	for rows.Next() {
		var m models.ChunkMatch
		var meta, tags []byte
		dest := append(chunkDest(&m.Chunk, &meta),
			&m.Filename, &m.DocType, &m.Category, &m.RoomID, &tags, &m.Score)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
		}
		if err := json.Unmarshal(tags, &m.AutoTags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (vs *VectorStore) CreateRoom(ctx context.Context, room *models.Room) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		vs.config.RoomTable)

	err := vs.pool.QueryRow(ctx, query,
		room.ID,
		sanitizeUTF8(room.Name),
		nullable(sanitizeUTF8(room.Description)),
		nullable(room.OwnerID),
	).Scan(&room.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

func (vs *VectorStore) roomColumns() string {
	return fmt.Sprintf(`r.id, r.name, COALESCE(r.description, ''), COALESCE(r.owner_id, ''), r.created_at, r.deleted_at,
		(SELECT COUNT(*) FROM %s d WHERE d.room_id = r.id AND d.deleted_at IS NULL)`,
		vs.config.DocumentTable)
}

func scanRoom(row rowScanner) (models.Room, error) {
	var room models.Room
	var count int64
	err := row.Scan(&room.ID, &room.Name, &room.Description, &room.OwnerID, &room.CreatedAt, &room.DeletedAt, &count)
	room.DocumentCount = int(count)
	return room, err
}

func (vs *VectorStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s r WHERE r.id = $1 AND r.deleted_at IS NULL`,
		vs.roomColumns(), vs.config.RoomTable)

	room, err := scanRoom(vs.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, models.RoomNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// ListRooms returns the live rooms of ownerID, newest first. An empty owner
// lists every room.
func (vs *VectorStore) ListRooms(ctx context.Context, ownerID string) ([]models.Room, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s r WHERE r.deleted_at IS NULL`,
		vs.roomColumns(), vs.config.RoomTable)
	var args []any
	if ownerID != "" {
		args = append(args, ownerID)
		query += " AND r.owner_id = $1"
	}
	query += " ORDER BY r.created_at DESC"

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (vs *VectorStore) SoftDeleteRoom(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		vs.config.RoomTable)
	tag, err := vs.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.RoomNotFound(id)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func encodeDocumentJSON(doc *models.Document) (meta, tags []byte, err error) {
	meta, err = json.Marshal(doc.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if doc.AutoTags == nil {
		doc.AutoTags = []string{}
	}
	tags, err = json.Marshal(doc.AutoTags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	return meta, tags, nil
}

func decodeDocumentJSON(doc *models.Document, tags, meta []byte) error {
	if err := json.Unmarshal(tags, &doc.AutoTags); err != nil {
		return fmt.Errorf("failed to decode tags: %w", err)
	}
	if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	if doc.Metadata == nil {
		doc.Metadata = models.RawMetadata{}
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// sanitizeUTF8 drops invalid bytes that PostgreSQL would reject.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
