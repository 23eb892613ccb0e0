package indexer

import (
	"context"
	"strings"

	"github.com/smartclm/clm/internal/models"
)

const previewRunes = 200

// OutlineSection is one parent chunk of a document, i.e. one article or
// headed section.
type OutlineSection struct {
	SectionID  string `json:"section_id"`
	Title      string `json:"title"`
	ChunkIndex int    `json:"chunk_index"`
	Preview    string `json:"preview"`
}

// Section is the full text of one parent chunk.
type Section struct {
	SectionID string `json:"section_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

// SectionContext is a section together with its neighbouring sections.
// ContextText joins them as "[title]\ncontent" blocks separated by a blank
// line.
type SectionContext struct {
	MainSectionID    string    `json:"main_section_id"`
	MainSectionTitle string    `json:"main_section_title"`
	Sections         []Section `json:"sections"`
	ContextText      string    `json:"context_text"`
}

// Outline lists the sections of a document in reading order. A document that
// was never indexed has an empty outline.
func (ix *Indexer) Outline(ctx context.Context, documentID string) ([]OutlineSection, error) {
	parents, err := ix.parentChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]OutlineSection, 0, len(parents))
	for _, c := range parents {
		out = append(out, OutlineSection{
			SectionID:  c.ID,
			Title:      sectionTitle(c),
			ChunkIndex: c.Index,
			Preview:    truncateRunes(c.Content, previewRunes),
		})
	}
	return out, nil
}

// SectionContext returns the section with the given id plus up to neighbors
// sections before and after it.
func (ix *Indexer) SectionContext(ctx context.Context, documentID, sectionID string, neighbors int) (*SectionContext, error) {
	if neighbors < 0 {
		neighbors = 0
	}
	parents, err := ix.parentChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}

	at := -1
	for i, c := range parents {
		if c.ID == sectionID {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, &models.NotFoundError{Kind: "section", ID: sectionID}
	}

	start := max(0, at-neighbors)
	end := min(len(parents), at+neighbors+1)
	out := &SectionContext{
		MainSectionID:    sectionID,
		MainSectionTitle: sectionTitle(parents[at]),
	}
	blocks := make([]string, 0, end-start)
	for _, c := range parents[start:end] {
		title := sectionTitle(c)
		out.Sections = append(out.Sections, Section{SectionID: c.ID, Title: title, Content: c.Content})
		blocks = append(blocks, "["+title+"]\n"+c.Content)
	}
	out.ContextText = strings.Join(blocks, "\n\n")
	return out, nil
}

func (ix *Indexer) parentChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	if _, err := ix.config.Store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	chunks, err := ix.config.Store.GetChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var parents []models.Chunk
	for _, c := range chunks {
		if c.ChunkType == models.ChunkParent {
			parents = append(parents, c)
		}
	}
	return parents, nil
}

// sectionTitle is the most specific header of the chunk.
func sectionTitle(c models.Chunk) string {
	for i := len(c.Headers) - 1; i >= 0; i-- {
		if c.Headers[i] != "" {
			return c.Headers[i]
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
