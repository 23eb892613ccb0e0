package processor_test

import (
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/pkg/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessor_Process(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	long := strings.TrimSpace(strings.Repeat("수급인은 발주자의 지시에 따라 성실히 업무를 수행한다. ", 30))
	doc := models.Document{
		ID:       "doc",
		Filename: "용역계약서.docx",
		MarkdownContent: strings.Join([]string{
			"# 용역계약서",
			"발주자와 수급인은 다음과 같이 계약을 체결한다.",
			"제1조 (목적)",
			"이 계약은 시스템 개발 용역에 관한 사항을 정한다.",
			"제 2 조 (업무 범위)",
			long,
			"## 부칙",
		}, "\n"),
	}

	chunks, err := p.Process(doc)
	require.NoError(t, err)

	var parents, children []models.Chunk
	for _, c := range chunks {
		if c.ChunkType == models.ChunkParent {
			parents = append(parents, c)
		} else {
			children = append(children, c)
		}
	}

	// The empty 부칙 section is dropped.
	require.Len(t, parents, 3)
	assert.Equal(t, "doc_parent_0", parents[0].ID)
	assert.Equal(t, [4]string{"용역계약서"}, parents[0].Headers)
	assert.Equal(t, "제1조 (목적)", parents[1].Headers[1])
	assert.Equal(t, "제1조 (목적)", parents[1].Headers[0])
	assert.Equal(t, "이 계약은 시스템 개발 용역에 관한 사항을 정한다.", parents[1].Content)
	assert.True(t, parents[1].Embeddable())
	assert.Equal(t, "제 2 조 (업무 범위)", parents[2].Headers[1])
	assert.False(t, parents[2].Embeddable())

	require.GreaterOrEqual(t, len(children), 2)
	for j, c := range children {
		assert.Equal(t, "doc_parent_2", c.ParentID)
		assert.Equal(t, "doc_parent_2_child_"+strconv.Itoa(j), c.ID)
		assert.Equal(t, c.ID, c.ChildID)
		assert.Equal(t, parents[2].Headers, c.Headers)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 500)
		assert.True(t, c.Embeddable())
	}

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "doc", c.DocumentID)
	}
}

func TestProcessor_HTMLFallback(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	doc := models.Document{
		ID: "html",
		HTMLContent: `<html><head><style>p{}</style></head><body>
			<h1>표준계약서</h1>
			<p>제1조 (목적)</p>
			<p>본 계약은 {{갑}}과 {{을}} 사이의 거래 조건을 정한다.</p>
			<table><tr><th>항목</th><th>금액</th></tr><tr><td>용역비</td><td>{{금액}}</td></tr></table>
		</body></html>`,
	}

	chunks, err := p.Process(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "제1조 (목적)", chunks[0].Headers[1])
	assert.Contains(t, chunks[0].Content, "{{갑}}")
	assert.Contains(t, chunks[0].Content, "용역비 | {{금액}}")
}

func TestProcessor_NoContent(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	_, err := p.Process(models.Document{ID: "empty"})
	assert.Error(t, err)
}

func TestHTMLToMarkdown(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"headers", "<h2>제3조</h2><p>내용</p>", "## 제3조\n내용"},
		{"list items", "<ul><li><p>하나</p></li><li>둘</li></ul>", "하나\n둘"},
		{"nested list", "<ul><li>가\n<ul><li>나</li></ul></li><li>다</li></ul>", "가 나\n다"},
		{"plain text", "<div>그냥   텍스트</div>", "그냥 텍스트"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := processor.HTMLToMarkdown(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
