package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/internal/types"
	"github.com/smartclm/clm/pkg/logger"
	_ "modernc.org/sqlite"
)

var _ types.DocumentStore = (*LocalStore)(nil)

const localSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	room_id TEXT,
	filename TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL DEFAULT '',
	category TEXT,
	processing_status TEXT NOT NULL DEFAULT 'completed',
	page_count INTEGER NOT NULL DEFAULT 0,
	version TEXT,
	auto_tags TEXT NOT NULL DEFAULT '[]',
	html_content TEXT,
	markdown_content TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);
CREATE INDEX IF NOT EXISTS documents_metadata_type_idx ON documents (json_extract(metadata, '$.type'));
CREATE INDEX IF NOT EXISTS documents_room_idx ON documents (room_id);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
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
	embedding TEXT,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id);

CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	owner_id TEXT,
	created_at TEXT NOT NULL,
	deleted_at TEXT
);
CREATE INDEX IF NOT EXISTS rooms_owner_idx ON rooms (owner_id);
`

// LocalStore is a single-file SQLite DocumentStore for working without a
// PostgreSQL server. Embeddings are kept as JSON arrays and ranked in memory.
type LocalStore struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

func NewLocalStore(ctx context.Context, path string, log *logger.Logger) (*LocalStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers; callers never hold rows open across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &LocalStore{
		db:  db,
		log: logger.OrNop(log),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

const localDocumentColumns = `id, COALESCE(room_id, ''), filename, doc_type, COALESCE(category, ''),
	processing_status, page_count, COALESCE(version, ''), auto_tags,
	COALESCE(html_content, ''), COALESCE(markdown_content, ''), metadata,
	created_at, updated_at, deleted_at`

func scanLocalDocument(row rowScanner) (models.Document, error) {
	var doc models.Document
	var tags, meta, created, updated string
	var deleted sql.NullString
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
		&created,
		&updated,
		&deleted,
	)
	if err != nil {
		return doc, err
	}
	if doc.CreatedAt, err = parseTime(created); err != nil {
		return doc, err
	}
	if doc.UpdatedAt, err = parseTime(updated); err != nil {
		return doc, err
	}
	if deleted.Valid {
		t, err := parseTime(deleted.String)
		if err != nil {
			return doc, err
		}
		doc.DeletedAt = &t
	}
	if err := decodeDocumentJSON(&doc, []byte(tags), []byte(meta)); err != nil {
		return doc, err
	}
	return doc, nil
}

func (s *LocalStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	meta, tags, err := encodeDocumentJSON(doc)
	if err != nil {
		return err
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, room_id, filename, doc_type, category, processing_status,
			page_count, version, auto_tags, html_content, markdown_content, metadata,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		nullable(doc.RoomID),
		doc.Filename,
		doc.DocType,
		nullable(doc.Category),
		doc.ProcessingStatus,
		doc.PageCount,
		nullable(doc.Version),
		string(tags),
		nullable(doc.HTMLContent),
		nullable(doc.MarkdownContent),
		string(meta),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	doc.CreatedAt, doc.UpdatedAt = now, now
	return nil
}

func (s *LocalStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+localDocumentColumns+` FROM documents WHERE id = ? AND deleted_at IS NULL`, id)

	doc, err := scanLocalDocument(row)
	if err == sql.ErrNoRows {
		return nil, models.DocumentNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// SaveMetadata replaces the metadata object and refreshes the doc_type and
// category columns from it.
func (s *LocalStore) SaveMetadata(ctx context.Context, id string, md models.RawMetadata) error {
	meta, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	// doc_type and category mirror the metadata so column filters agree with it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET metadata = ?1,
			doc_type = COALESCE(json_extract(?1, '$.type'), doc_type),
			category = NULLIF(json_extract(?1, '$.category'), ''),
			updated_at = ?2
		WHERE id = ?3 AND deleted_at IS NULL`,
		string(meta), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return requireOne(res, id)
}

func (s *LocalStore) SetProcessingStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET processing_status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		status, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return requireOne(res, id)
}

func (s *LocalStore) ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	var where []string
	var args []any
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.GlobalOnly {
		where = append(where, "room_id IS NULL")
	} else if filter.RoomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.DocType != "" {
		where = append(where, "doc_type = ?")
		args = append(args, filter.DocType)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Status != "" {
		where = append(where, "processing_status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + localDocumentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	return s.queryDocuments(ctx, query, args...)
}

func (s *LocalStore) ListByMetadataType(ctx context.Context, docType string) ([]models.Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+localDocumentColumns+` FROM documents
		WHERE deleted_at IS NULL AND json_extract(metadata, '$.type') = ?
		ORDER BY created_at DESC, rowid DESC`, docType)
}

// ListWithExtractedPath narrows candidates with json_type, which unlike
// json_extract distinguishes a JSON null from a missing key.
func (s *LocalStore) ListWithExtractedPath(ctx context.Context, path []string) ([]models.Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+localDocumentColumns+` FROM documents
		WHERE deleted_at IS NULL AND json_type(metadata, ?) IS NOT NULL
		ORDER BY created_at DESC, rowid DESC`, sqliteJSONPath(path))
}

// sqliteJSONPath quotes each label so keys with dots or non-ASCII text
// resolve. SQLite has no escape for a double quote inside a label, so such
// paths fall back to any document with extracted_info.
func sqliteJSONPath(path []string) string {
	var b strings.Builder
	b.WriteString("$." + models.KeyExtractedInfo)
	for _, key := range path {
		if strings.Contains(key, `"`) {
			return "$." + models.KeyExtractedInfo
		}
		b.WriteString(`."` + key + `"`)
	}
	return b.String()
}

func (s *LocalStore) queryDocuments(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanLocalDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *LocalStore) SoftDeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return requireOne(res, id)
}

func (s *LocalStore) RestoreDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to restore document: %w", err)
	}
	return requireOne(res, id)
}

func (s *LocalStore) SaveChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	for _, c := range chunks {
		meta, err := json.Marshal(nonNilMap(c.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		var embedding any
		if len(c.Embedding) > 0 {
			raw, err := json.Marshal(c.Embedding)
			if err != nil {
				return fmt.Errorf("failed to encode embedding: %w", err)
			}
			embedding = string(raw)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, content, chunk_type, parent_id, child_id,
				header_1, header_2, header_3, header_4, word_count, char_count, embedding, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID,
			documentID,
			c.Index,
			c.Content,
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
			string(meta),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("chunks stored", "document_id", documentID, "count", len(chunks))
	return nil
}

const localChunkColumns = `c.id, c.document_id, c.chunk_index, c.content, c.chunk_type,
	COALESCE(c.parent_id, ''), COALESCE(c.child_id, ''),
	COALESCE(c.header_1, ''), COALESCE(c.header_2, ''), COALESCE(c.header_3, ''), COALESCE(c.header_4, ''),
	c.word_count, c.char_count, c.metadata, c.embedding`

func localChunkDest(c *models.Chunk, meta *string, embedding *sql.NullString) []any {
	return []any{
		&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.ChunkType,
		&c.ParentID, &c.ChildID,
		&c.Headers[0], &c.Headers[1], &c.Headers[2], &c.Headers[3],
		&c.WordCount, &c.CharCount, meta, embedding,
	}
}

func decodeLocalChunk(c *models.Chunk, meta string, embedding sql.NullString) error {
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return fmt.Errorf("failed to decode chunk metadata: %w", err)
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
			return fmt.Errorf("failed to decode embedding: %w", err)
		}
	}
	return nil
}

func (s *LocalStore) GetChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+localChunkColumns+` FROM chunks c WHERE c.document_id = ? ORDER BY c.chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		var meta string
		var embedding sql.NullString
		if err := rows.Scan(localChunkDest(&c, &meta, &embedding)...); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := decodeLocalChunk(&c, meta, embedding); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchChunks applies the same scoping as the PostgreSQL store and ranks the
// candidates by cosine similarity in memory.
func (s *LocalStore) SearchChunks(ctx context.Context, embedding []float32, filter models.SearchFilter) ([]models.ChunkMatch, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = 5
	}

	where := []string{"c.embedding IS NOT NULL", "d.deleted_at IS NULL"}
	var args []any
	if filter.RoomID != "" {
		where = append(where, "(d.room_id IS NULL OR d.room_id = ?)")
		args = append(args, filter.RoomID)
	} else {
		where = append(where, "d.room_id IS NULL")
	}
	if len(filter.DocTypes) > 0 {
		where = append(where, "d.doc_type IN (?"+strings.Repeat(", ?", len(filter.DocTypes)-1)+")")
		for _, t := range filter.DocTypes {
			args = append(args, t)
		}
	}

	query := `
		SELECT ` + localChunkColumns + `, d.filename, d.doc_type, COALESCE(d.category, ''), COALESCE(d.room_id, ''), d.auto_tags
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
		WHERE ` + strings.Join(where, " AND ")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var matches []models.ChunkMatch
	for rows.Next() {
		var m models.ChunkMatch
		var meta, tags string
		var emb sql.NullString
		dest := append(localChunkDest(&m.Chunk, &meta, &emb),
			&m.Filename, &m.DocType, &m.Category, &m.RoomID, &tags)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		if err := decodeLocalChunk(&m.Chunk, meta, emb); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &m.AutoTags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
		m.Score = cosineSimilarity(embedding, m.Embedding)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *LocalStore) CreateRoom(ctx context.Context, room *models.Room) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, description, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		room.ID, room.Name, nullable(room.Description), nullable(room.OwnerID), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}
	room.CreatedAt = now
	return nil
}

const localRoomColumns = `r.id, r.name, COALESCE(r.description, ''), COALESCE(r.owner_id, ''), r.created_at, r.deleted_at,
	(SELECT COUNT(*) FROM documents d WHERE d.room_id = r.id AND d.deleted_at IS NULL)`

func scanLocalRoom(row rowScanner) (models.Room, error) {
	var room models.Room
	var created string
	var deleted sql.NullString
	if err := row.Scan(&room.ID, &room.Name, &room.Description, &room.OwnerID, &created, &deleted, &room.DocumentCount); err != nil {
		return room, err
	}
	var err error
	if room.CreatedAt, err = parseTime(created); err != nil {
		return room, err
	}
	if deleted.Valid {
		t, err := parseTime(deleted.String)
		if err != nil {
			return room, err
		}
		room.DeletedAt = &t
	}
	return room, nil
}

func (s *LocalStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+localRoomColumns+` FROM rooms r WHERE r.id = ? AND r.deleted_at IS NULL`, id)

	room, err := scanLocalRoom(row)
	if err == sql.ErrNoRows {
		return nil, models.RoomNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// ListRooms returns the live rooms of ownerID, newest first. An empty owner
// lists every room.
func (s *LocalStore) ListRooms(ctx context.Context, ownerID string) ([]models.Room, error) {
	query := `SELECT ` + localRoomColumns + ` FROM rooms r WHERE r.deleted_at IS NULL`
	var args []any
	if ownerID != "" {
		query += ` AND r.owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY r.created_at DESC, r.rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanLocalRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *LocalStore) SoftDeleteRoom(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return models.RoomNotFound(id)
	}
	return nil
}

func (s *LocalStore) Close() {
	if err := s.db.Close(); err != nil {
		s.log.Warn("failed to close database", "error", err)
	}
}

func requireOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return models.DocumentNotFound(id)
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Fixed-width so timestamps sort as text.
const localTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(localTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
