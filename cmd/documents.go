package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/pkg/indexer"
	"github.com/smartclm/clm/pkg/metadata"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var addCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Store and index a document",
	Long: `Stores a file as a document with the given metadata and indexes its text.
Markdown, text and HTML files are read as they are, PDFs are sent to the
parser, and any other format is converted to PDF first.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var showCmd = &cobra.Command{
	Use:   "show [doc-id]",
	Short: "Show a document and its metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var setCmd = &cobra.Command{
	Use:   "set [doc-id] [json]",
	Short: "Update top-level metadata keys",
	Long: `Merges a JSON object into the document metadata. Each key replaces the
stored key of the same name as a whole; keys not mentioned are kept.`,
	Example: `  clm set 3f2a... '{"custom_fields": {"검토자": "김변호사"}}'`,
	Args:    cobra.ExactArgs(2),
	RunE:    runSet,
}

var indexCmd = &cobra.Command{
	Use:   "index [doc-id]",
	Short: "Rebuild the chunks of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Soft delete a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [doc-id]",
	Short: "Restore a soft deleted document",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

var (
	addType     string
	addCategory string
	addRoom     string
	addVersion  string
	addTags     []string
	addVars     map[string]string
	addFields   []string
	addInfo     string
	addCustom   string

	showJSON bool

	listType    string
	listRoom    string
	listGlobal  bool
	listDeleted bool
	listJSON    bool
)

func init() {
	addCmd.Flags().StringVarP(&addType, "type", "t", string(models.TypeContract), "document type")
	addCmd.Flags().StringVar(&addCategory, "category", "", "document category")
	addCmd.Flags().StringVar(&addRoom, "room", "", "room id; empty stores a global document")
	addCmd.Flags().StringVar(&addVersion, "version", "", "document version label")
	addCmd.Flags().StringSliceVar(&addTags, "tag", nil, "tag to attach (repeatable)")
	addCmd.Flags().StringToStringVar(&addVars, "var", nil, "template value key=value (repeatable)")
	addCmd.Flags().StringSliceVar(&addFields, "field", nil, "standard contract field name:type[:required] (repeatable)")
	addCmd.Flags().StringVar(&addInfo, "info", "", "extracted_info as a JSON object")
	addCmd.Flags().StringVar(&addCustom, "custom", "", "custom_fields as a JSON object")

	showCmd.Flags().BoolVar(&showJSON, "json", false, "output the document as JSON")

	listCmd.Flags().StringVarP(&listType, "type", "t", "", "only documents of this type")
	listCmd.Flags().StringVar(&listRoom, "room", "", "only documents of this room")
	listCmd.Flags().BoolVar(&listGlobal, "global", false, "only global documents")
	listCmd.Flags().BoolVar(&listDeleted, "deleted", false, "include soft deleted documents")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(addCmd, showCmd, listCmd, setCmd, indexCmd, deleteCmd, restoreCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	md, err := buildMetadata()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	progress, finish := embedProgress(cmd.ErrOrStderr(), "🔄 Embedding chunks...")
	doc, err := docIndexer.Ingest(cmd.Context(), indexer.IngestRequest{
		Filename: args[0],
		Content:  f,
		RoomID:   addRoom,
		Metadata: md,
		AutoTags: addTags,
		Version:  addVersion,
	}, progress)
	finish()
	if err != nil {
		if doc != nil {
			return fmt.Errorf("document %s stored but indexing failed: %w", doc.ID, err)
		}
		return fmt.Errorf("failed to add document: %w", err)
	}

	cmd.Println(color.GreenString("✓ Added %s", doc.Filename))
	cmd.Printf("  ID:       %s\n", doc.ID)
	cmd.Printf("  Type:     %s\n", doc.DocType)
	if doc.Category != "" {
		cmd.Printf("  Category: %s\n", doc.Category)
	}
	if doc.PageCount > 0 {
		cmd.Printf("  Pages:    %d\n", doc.PageCount)
	}
	return nil
}

func buildMetadata() (models.Metadata, error) {
	docType := models.DocType(addType)
	if !docType.Valid() {
		return models.Metadata{}, fmt.Errorf("unknown document type %q", addType)
	}

	info, err := parseJSONObject("info", addInfo)
	if err != nil {
		return models.Metadata{}, err
	}
	custom, err := parseJSONObject("custom", addCustom)
	if err != nil {
		return models.Metadata{}, err
	}

	opts := []metadata.Option{metadata.WithCustomFields(custom)}
	switch {
	case docType == models.TypeStandardContract && len(addFields) > 0:
		specs, err := parseFieldSpecs(addFields)
		if err != nil {
			return models.Metadata{}, err
		}
		opts = append(opts, metadata.WithVariables(metadata.BuildFieldDefinitions(specs)))
	case len(addFields) > 0:
		return models.Metadata{}, fmt.Errorf("--field only applies to %s documents", models.TypeStandardContract)
	case len(addVars) > 0 && docType == models.TypeStandardContract:
		return models.Metadata{}, fmt.Errorf("--var does not apply to %s documents, use --field", models.TypeStandardContract)
	case len(addVars) > 0:
		opts = append(opts, metadata.WithVariables(models.TemplateValues(addVars)))
	}

	return metadata.CreateMetadata(docType, addCategory, info, opts...), nil
}

func parseJSONObject(flag, s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return obj, nil
}

func parseFieldSpecs(specs []string) ([]metadata.FieldSpec, error) {
	out := make([]metadata.FieldSpec, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid field %q, expected name:type[:required]", s)
		}
		spec := metadata.FieldSpec{Name: parts[0], Type: parts[1]}
		if len(parts) == 3 {
			if parts[2] != "required" {
				return nil, fmt.Errorf("invalid field %q, expected name:type[:required]", s)
			}
			spec.Required = true
		}
		out = append(out, spec)
	}
	return out, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	view, err := docIndexer.View(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	if showJSON {
		return printJSON(cmd, view)
	}
	doc := view.Document

	cmd.Printf("Document: %s\n\n", color.CyanString(doc.ID))
	cmd.Printf("  Filename: %s\n", doc.Filename)
	cmd.Printf("  Type:     %s\n", doc.DocType)
	if doc.Category != "" {
		cmd.Printf("  Category: %s\n", doc.Category)
	}
	if doc.RoomID != "" {
		cmd.Printf("  Room:     %s\n", doc.RoomID)
	}
	cmd.Printf("  Status:   %s\n", doc.ProcessingStatus)
	if len(doc.AutoTags) > 0 {
		cmd.Printf("  Tags:     %s\n", strings.Join(doc.AutoTags, ", "))
	}
	cmd.Printf("  Created:  %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("  Updated:  %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))

	cmd.Println("\n  Metadata:")
	keys := make([]string, 0, len(doc.Metadata))
	for k := range doc.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Printf("    %s: %s\n", k, string(doc.Metadata[k]))
	}

	if view.Extracted != nil {
		out, err := yaml.Marshal(view.Extracted)
		if err != nil {
			return fmt.Errorf("failed to format extracted info: %w", err)
		}
		if text := strings.TrimSpace(string(out)); text != "" && text != "{}" {
			cmd.Println("\n  Extracted info:")
			for _, line := range strings.Split(text, "\n") {
				cmd.Printf("    %s\n", line)
			}
		}
	}
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	docs, err := docIndexer.List(cmd.Context(), models.DocumentFilter{
		RoomID:         listRoom,
		GlobalOnly:     listGlobal,
		DocType:        listType,
		IncludeDeleted: listDeleted,
	})
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if listJSON {
		return printJSON(cmd, docs)
	}
	return printDocuments(cmd, docs)
}

func printDocuments(cmd *cobra.Command, docs []models.Document) error {
	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}
	for i := range docs {
		line := fmt.Sprintf("  %s  %-18s %s", docs[i].ID, docs[i].DocType, docs[i].Filename)
		if docs[i].IsDeleted() {
			line = color.HiBlackString("%s (deleted)", line)
		}
		cmd.Println(line)
	}
	cmd.Printf("\nTotal: %d documents\n", len(docs))
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	var patch metadata.Patch
	if err := json.Unmarshal([]byte(args[1]), &patch); err != nil {
		return fmt.Errorf("patch must be a JSON object: %w", err)
	}
	if len(patch) == 0 {
		return fmt.Errorf("patch is empty")
	}

	if err := docIndexer.Accessor().UpdateMetadata(cmd.Context(), args[0], patch); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cmd.Println(color.GreenString("✓ Updated %s: %s", args[0], strings.Join(keys, ", ")))
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	progress, finish := embedProgress(cmd.ErrOrStderr(), "🔄 Embedding chunks...")
	n, err := docIndexer.IndexDocument(cmd.Context(), args[0], progress)
	finish()
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	cmd.Println(color.GreenString("✓ Indexed %s into %d chunks", args[0], n))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}
	if err := docIndexer.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	cmd.Println(color.GreenString("✓ Deleted %s", args[0]))
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}
	if err := docIndexer.Restore(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to restore document: %w", err)
	}
	cmd.Println(color.GreenString("✓ Restored %s", args[0]))
	return nil
}
