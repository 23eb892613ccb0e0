package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/pkg/config"
	"github.com/smartclm/clm/pkg/indexer"
	"github.com/smartclm/clm/pkg/metadata"
	"github.com/smartclm/clm/pkg/processor"
	"github.com/smartclm/clm/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type termEmbedder struct{}

func (termEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v := []float32{0.1, 0.1}
		if strings.Contains(t, "해지") {
			v[0] = 1
		}
		out = append(out, v)
	}
	return out, nil
}

func resetFlags() {
	addType, addCategory, addRoom, addVersion = string(models.TypeContract), "", "", ""
	addTags, addFields = nil, nil
	addVars = map[string]string{}
	addInfo, addCustom = "", ""
	showJSON = false
	listType, listRoom, listGlobal, listDeleted, listJSON = "", "", false, false, false
	findOp, findJSON = "eq", false
	renderVars, renderStrict = map[string]string{}, false
	searchRoom, searchTypes, searchLimit, searchJSON = "", nil, 0, false
	initForce = false
	roomDescription, roomOwner, roomJSON = "", "", false
	outlineJSON, sectionNeighbors, sectionJSON = false, 1, false
}

func setupCLI(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.NewLocalStore(context.Background(), filepath.Join(t.TempDir(), "clm.db"), nil)
	require.NoError(t, err)

	ix, err := indexer.NewWithConfig(indexer.IndexerConfig{
		Store:     s,
		Processor: processor.NewWithConfig(processor.ProcessorConfig{}),
		Embedder:  termEmbedder{},
	})
	require.NoError(t, err)

	oldStore, oldIndexer := docStore, docIndexer
	docStore, docIndexer = s, ix
	resetFlags()
	t.Cleanup(func() {
		docStore, docIndexer = oldStore, oldIndexer
		s.Close()
	})
	return s
}

func execute(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const contractBody = "제1조 (대금)\n{{갑}}은 {{금액}}을 지급한다.\n제2조 (해지)\n해지는 30일 전 통지한다."

func addContract(t *testing.T, s *store.LocalStore, name, amount string) string {
	t.Helper()
	md := metadata.CreateMetadata(models.TypeContract, "용역", map[string]any{
		"계약금액": map[string]any{"금액": amount},
	}, metadata.WithVariables(models.TemplateValues{"갑": "A", "금액": amount}))
	doc := &models.Document{Filename: name, MarkdownContent: contractBody}
	require.NoError(t, docIndexer.Accessor().CreateDocument(context.Background(), doc, md))
	_, err := docIndexer.IndexDocument(context.Background(), doc.ID, nil)
	require.NoError(t, err)
	return doc.ID
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"init", "add", "show", "list", "set", "find", "render", "diff", "index", "search", "delete", "restore", "health", "serve", "room", "outline", "section"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	sub := map[string]bool{}
	for _, c := range findCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.True(t, sub["type"])
	assert.True(t, sub["field"])
}

func TestAddCommand(t *testing.T) {
	s := setupCLI(t)
	path := writeFile(t, "용역계약서.md", contractBody)

	out, err := execute("add", path,
		"--type", "contract",
		"--category", "용역",
		"--room", "room-1",
		"--var", "갑=A",
		"--info", `{"계약금액":{"금액":"1,000만원"}}`,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Added 용역계약서.md")

	docs, err := s.ListDocuments(context.Background(), models.DocumentFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "room-1", docs[0].RoomID)
	assert.Equal(t, models.StatusCompleted, docs[0].ProcessingStatus)

	md, err := docs[0].Metadata.Decode()
	require.NoError(t, err)
	assert.Equal(t, models.TemplateValues{"갑": "A"}, md.Variables)
	assert.Equal(t, map[string]any{"금액": "1,000만원"}, md.ExtractedInfo["계약금액"])

	chunks, err := s.GetChunks(context.Background(), docs[0].ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestAddCommandErrors(t *testing.T) {
	setupCLI(t)
	path := writeFile(t, "a.md", "본문")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown type", []string{"add", path, "--type", "memo"}, `unknown document type "memo"`},
		{"bad info", []string{"add", path, "--info", "[1]"}, "--info must be a JSON object"},
		{"field on contract", []string{"add", path, "--field", "갑:text"}, "--field only applies"},
		{"missing file", []string{"add", filepath.Join(t.TempDir(), "none.md")}, "failed to open"},
		{"no args", []string{"add"}, "accepts 1 arg(s), received 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			_, err := execute(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAddStandardContract(t *testing.T) {
	s := setupCLI(t)
	path := writeFile(t, "표준계약서.md", "발주자: {{발주자}}")

	_, err := execute("add", path, "--type", "standard_contract", "--field", "발주자:text:required", "--field", "비고:text")
	require.NoError(t, err)

	docs, err := s.ListByMetadataType(context.Background(), "standard_contract")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	md, err := docs[0].Metadata.Decode()
	require.NoError(t, err)
	assert.Equal(t, []models.FieldDefinition{
		{Name: "발주자", Type: "text", Required: true},
		{Name: "비고", Type: "text"},
	}, md.Fields())

	resetFlags()
	_, err = execute("render", docs[0].ID, "--strict")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnresolvedPlaceholder)

	resetFlags()
	out, err := execute("render", docs[0].ID, "--strict", "--var", "발주자=조달청")
	require.NoError(t, err)
	assert.Equal(t, "발주자: 조달청\n", out)
}

func TestParseFieldSpecs(t *testing.T) {
	specs, err := parseFieldSpecs([]string{"갑:text:required", "금액:number"})
	require.NoError(t, err)
	assert.Equal(t, []metadata.FieldSpec{
		{Name: "갑", Type: "text", Required: true},
		{Name: "금액", Type: "number"},
	}, specs)

	for _, bad := range []string{"갑", ":text", "갑:text:maybe", "a:b:c:d"} {
		_, err := parseFieldSpecs([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestShowCommand(t *testing.T) {
	s := setupCLI(t)
	id := addContract(t, s, "c.md", "1,000만원")

	out, err := execute("show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Document: "+id)
	assert.Contains(t, out, "Filename: c.md")
	assert.Contains(t, out, `type: "contract"`)
	assert.Contains(t, out, "Extracted info:")
	assert.Contains(t, out, "계약금액:")
	assert.Contains(t, out, "금액: 1,000만원")

	resetFlags()
	out, err = execute("show", id, "--json")
	require.NoError(t, err)
	var shown struct {
		ID        string `json:"id"`
		Extracted struct {
			Amount struct {
				Amount string `json:"금액"`
			} `json:"계약금액"`
		} `json:"extracted"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, id, shown.ID)
	assert.Equal(t, "1,000만원", shown.Extracted.Amount.Amount)
	resetFlags()

	_, err = execute("show", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = execute("show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s), received 0")
}

func TestSetCommand(t *testing.T) {
	s := setupCLI(t)
	id := addContract(t, s, "c.md", "1,000만원")

	out, err := execute("set", id, `{"custom_fields":{"비고":"x"},"category":"공사"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Updated "+id+": category, custom_fields")

	md, err := docIndexer.Accessor().GetMetadata(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "공사", md.Category)
	assert.Equal(t, map[string]any{"비고": "x"}, md.CustomFields)
	assert.Equal(t, models.TypeContract, md.Type)

	_, err = execute("set", id, "not json")
	assert.Error(t, err)
	_, err = execute("set", id, "{}")
	assert.Error(t, err)
	_, err = execute("set", "missing", `{"category":"x"}`)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFindCommands(t *testing.T) {
	s := setupCLI(t)
	small := addContract(t, s, "small.md", "1,000만원")
	big := addContract(t, s, "big.md", "25,000,000")
	_, err := execute("add", writeFile(t, "민법.md", "제1조 (목적)\n이 법은 사법관계를 규율한다."), "--type", "law")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		in   []string
		out  []string
	}{
		{"by type", []string{"find", "type", "contract"}, []string{small, big}, nil},
		{"field equals", []string{"find", "field", "계약금액.금액", "1,000만원"}, []string{small}, []string{big}},
		{"field gte", []string{"find", "field", "계약금액.금액", "10,000,000", "--op", "gte"}, []string{big}, []string{small}},
		{"field exists", []string{"find", "field", "계약금액.금액"}, []string{small, big}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			out, err := execute(tt.args...)
			require.NoError(t, err)
			for _, id := range tt.in {
				assert.Contains(t, out, id)
			}
			for _, id := range tt.out {
				assert.NotContains(t, out, id)
			}
			assert.NotContains(t, out, "민법.md")
		})
	}

	resetFlags()
	out, err := execute("find", "type", "legal_case")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents found.")

	resetFlags()
	_, err = execute("find", "field", "계약금액.금액", "abc", "--op", "gt")
	assert.Error(t, err)
}

func TestRenderAndDiffCommands(t *testing.T) {
	s := setupCLI(t)
	a := addContract(t, s, "a.md", "1,000만원")
	b := addContract(t, s, "b.md", "2,000만원")

	out, err := execute("render", a, "--var", "갑=B")
	require.NoError(t, err)
	assert.Contains(t, out, "B은 1,000만원을 지급한다.")

	out, err = execute("diff", a, b)
	require.NoError(t, err)
	assert.Equal(t, "  금액\n    - 1,000만원\n    + 2,000만원\n", out)

	out, err = execute("diff", a, a)
	require.NoError(t, err)
	assert.Contains(t, out, "Variables are identical.")

	_, err = execute("diff", a)
	assert.Error(t, err)
}

func TestSearchCommand(t *testing.T) {
	s := setupCLI(t)
	addContract(t, s, "a.md", "1")

	out, err := execute("search", "해지 조건", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] a.md")
	assert.Contains(t, out, "해지는 30일 전 통지한다.")
	assert.NotContains(t, out, "[2]")

	resetFlags()
	out, err = execute("search", "해지", "--type", "law")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestIndexCommand(t *testing.T) {
	s := setupCLI(t)
	id := addContract(t, s, "a.md", "1")

	out, err := execute("index", id)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Indexed "+id+" into 2 chunks")
}

func TestDeleteAndRestoreCommands(t *testing.T) {
	s := setupCLI(t)
	id := addContract(t, s, "a.md", "1")

	_, err := execute("delete", id)
	require.NoError(t, err)

	out, err := execute("list")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents found.")

	out, err = execute("list", "--deleted")
	require.NoError(t, err)
	assert.Contains(t, out, "(deleted)")

	_, err = execute("restore", id)
	require.NoError(t, err)

	resetFlags()
	out, err = execute("list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Total: 1 documents")

	_, err = execute("restore", id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInitCommand(t *testing.T) {
	resetFlags()
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "clm.yaml")

	out, err := execute("init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Wrote "+path)

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, loaded.Database.Driver)

	_, err = execute("init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute("init", path, "--force")
	assert.NoError(t, err)
}

func TestRequireIndexer(t *testing.T) {
	old := docIndexer
	docIndexer = nil
	defer func() { docIndexer = old }()

	assert.EqualError(t, requireIndexer(), "document store not configured")
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"계약금액", "금액"}, splitPath("계약금액.금액"))
	assert.Equal(t, []string{"a"}, splitPath(" a. "))
	assert.Empty(t, splitPath(""))
}

func TestRoomCommands(t *testing.T) {
	setupCLI(t)

	out, err := execute("room", "create", "용역 계약", "--owner", "u1", "--json")
	require.NoError(t, err)
	var room models.Room
	require.NoError(t, json.Unmarshal([]byte(out), &room))
	assert.Equal(t, "용역 계약", room.Name)
	assert.Equal(t, "u1", room.OwnerID)
	resetFlags()

	path := writeFile(t, "계약서.md", contractBody)
	_, err = execute("add", path, "--room", room.ID)
	require.NoError(t, err)
	resetFlags()
	_, err = execute("add", path, "--room", room.ID)
	require.NoError(t, err)
	resetFlags()

	out, err = execute("room", "show", room.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Name:      용역 계약")
	assert.Contains(t, out, "Documents: 2")
	assert.Contains(t, out, "계약서.md (v1)")
	assert.Contains(t, out, "계약서.md (v2)")

	out, err = execute("room", "list", "--owner", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 documents")
	assert.Contains(t, out, "Total: 1 rooms")
	resetFlags()

	out, err = execute("room", "list", "--owner", "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "No rooms found.")
	resetFlags()

	out, err = execute("room", "delete", room.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Deleted room "+room.ID)

	_, err = execute("room", "show", room.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOutlineAndSectionCommands(t *testing.T) {
	s := setupCLI(t)
	id := addContract(t, s, "c.md", "1,000만원")

	out, err := execute("outline", id)
	require.NoError(t, err)
	assert.Contains(t, out, id+"_parent_0  제1조 (대금)")
	assert.Contains(t, out, id+"_parent_1  제2조 (해지)")

	out, err = execute("section", id, id+"_parent_1")
	require.NoError(t, err)
	assert.Equal(t, "[제1조 (대금)]\n{{갑}}은 {{금액}}을 지급한다.\n\n[제2조 (해지)]\n해지는 30일 전 통지한다.\n", out)

	out, err = execute("section", id, id+"_parent_1", "--neighbors", "0")
	require.NoError(t, err)
	assert.NotContains(t, out, "제1조")
	resetFlags()

	_, err = execute("section", id, "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
