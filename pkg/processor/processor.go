package processor

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/internal/types"
	"github.com/tmc/langchaingo/textsplitter"
)

var _ types.Processor = (*Processor)(nil)

type ProcessorConfig struct {
	// Parents longer than ChildThreshold characters are split into children.
	ChildThreshold int
	ChunkSize      int
	ChunkOverlap   int
}

// Processor cuts a document into parent chunks, one per markdown section, and
// child chunks for the sections too long to embed whole.
type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChildThreshold == 0 {
		config.ChildThreshold = 500
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 50
	}

	return Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		),
	}
}

var (
	articlePattern = regexp.MustCompile(`^제\s*\d+\s*조`)
	headerPattern  = regexp.MustCompile(`^(#{1,4})\s+(.+?)\s*#*$`)
)

type section struct {
	headers [4]string
	content string
}

func (p Processor) Process(doc models.Document) ([]models.Chunk, error) {
	text := doc.MarkdownContent
	if strings.TrimSpace(text) == "" && doc.HTMLContent != "" {
		var err error
		text, err = HTMLToMarkdown(doc.HTMLContent)
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("document %s has no content to chunk", doc.ID)
	}

	var chunks []models.Chunk
	for i, sec := range splitSections(promoteArticles(text)) {
		parentID := fmt.Sprintf("%s_parent_%d", doc.ID, i)
		parent := models.Chunk{
			ID:         parentID,
			DocumentID: doc.ID,
			Index:      len(chunks),
			Content:    sec.content,
			ChunkType:  models.ChunkParent,
			ParentID:   parentID,
			ChildID:    parentID,
			Headers:    sec.headers,
			WordCount:  len(strings.Fields(sec.content)),
			CharCount:  utf8.RuneCountInString(sec.content),
			Metadata: map[string]any{
				"source":       doc.Filename,
				"parent_index": i,
			},
		}

		if parent.CharCount <= p.config.ChildThreshold {
			parent.Metadata["is_standalone"] = true
			chunks = append(chunks, parent)
			continue
		}

		parts, err := p.splitter.SplitText(sec.content)
		if err != nil {
			return nil, fmt.Errorf("failed to split section %d: %w", i, err)
		}
		chunks = append(chunks, parent)
		for j, part := range parts {
			childID := fmt.Sprintf("%s_child_%d", parentID, j)
			chunks = append(chunks, models.Chunk{
				ID:         childID,
				DocumentID: doc.ID,
				Index:      len(chunks),
				Content:    part,
				ChunkType:  models.ChunkChild,
				ParentID:   parentID,
				ChildID:    childID,
				Headers:    sec.headers,
				WordCount:  len(strings.Fields(part)),
				CharCount:  utf8.RuneCountInString(part),
				Metadata: map[string]any{
					"source":       doc.Filename,
					"parent_index": i,
					"child_index":  j,
				},
			})
		}
	}

	return chunks, nil
}

// promoteArticles turns article lines ("제8조 (계약기간)") into level-2
// headers so each article becomes its own section.
func promoteArticles(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if articlePattern.MatchString(trimmed) {
			lines[i] = "## " + trimmed
		}
	}
	return strings.Join(lines, "\n")
}

// splitSections splits markdown on #..#### headers. Header lines are not part
// of the content; sections with no body text are dropped.
func splitSections(text string) []section {
	var sections []section
	var headers [4]string
	var body []string
	inFence := false

	flush := func() {
		content := strings.TrimSpace(strings.Join(body, "\n"))
		body = body[:0]
		if content == "" {
			return
		}
		h := headers
		// An article header also names the top level, so its number survives
		// when the document has no level-1 title.
		if strings.HasPrefix(h[1], "제") && strings.Contains(h[1], "조") {
			h[0] = h[1]
		}
		sections = append(sections, section{headers: h, content: content})
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
				flush()
				level := len(m[1])
				headers[level-1] = m[2]
				for k := level; k < len(headers); k++ {
					headers[k] = ""
				}
				continue
			}
		}
		body = append(body, line)
	}
	flush()

	return sections
}
