package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/pkg/indexer"
	"github.com/smartclm/clm/pkg/metadata"
	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Query documents by metadata",
}

var findTypeCmd = &cobra.Command{
	Use:   "type [doc-type]",
	Short: "Find documents whose metadata type matches",
	Args:  cobra.ExactArgs(1),
	RunE:  runFindType,
}

var findFieldCmd = &cobra.Command{
	Use:   "field [path] [value]",
	Short: "Find documents by an extracted_info value",
	Long: `Finds documents whose extracted_info holds a value at the dotted path that
satisfies the operator. Without a value only the presence of the path is
checked. Numeric operators accept strings with thousands separators.

Operators: eq, neq, gt, gte, lt, lte, expr`,
	Example: `  clm find field 계약금액.금액 10,000,000 --op gte
  clm find field 계약금액.금액 '"만원" in value' --op expr`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFindField,
}

var renderCmd = &cobra.Command{
	Use:   "render [doc-id]",
	Short: "Fill a document template with its variables",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var diffCmd = &cobra.Command{
	Use:   "diff [doc-id] [doc-id]",
	Short: "Compare the variables of two documents",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed chunks by similarity",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var outlineCmd = &cobra.Command{
	Use:   "outline [doc-id]",
	Short: "List the sections of an indexed document",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutline,
}

var sectionCmd = &cobra.Command{
	Use:   "section [doc-id] [section-id]",
	Short: "Print a section together with its neighbouring sections",
	Args:  cobra.ExactArgs(2),
	RunE:  runSection,
}

var (
	findOp   string
	findJSON bool

	renderVars   map[string]string
	renderStrict bool

	searchRoom  string
	searchTypes []string
	searchLimit int
	searchJSON  bool

	outlineJSON      bool
	sectionNeighbors int
	sectionJSON      bool
)

func init() {
	findCmd.PersistentFlags().BoolVar(&findJSON, "json", false, "output as JSON")
	findFieldCmd.Flags().StringVar(&findOp, "op", "eq", "comparison operator")
	findCmd.AddCommand(findTypeCmd, findFieldCmd)

	renderCmd.Flags().StringToStringVar(&renderVars, "var", nil, "override value key=value (repeatable)")
	renderCmd.Flags().BoolVar(&renderStrict, "strict", false, "fail on unresolved placeholders and missing required fields")

	searchCmd.Flags().StringVar(&searchRoom, "room", "", "search this room together with global documents")
	searchCmd.Flags().StringSliceVarP(&searchTypes, "type", "t", nil, "restrict to document types")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")

	outlineCmd.Flags().BoolVar(&outlineJSON, "json", false, "output as JSON")
	sectionCmd.Flags().IntVarP(&sectionNeighbors, "neighbors", "n", 1, "sections to include before and after")
	sectionCmd.Flags().BoolVar(&sectionJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(findCmd, renderCmd, diffCmd, searchCmd, outlineCmd, sectionCmd)
}

func runFindType(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}
	docs, err := docIndexer.Accessor().QueryByType(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to query documents: %w", err)
	}
	if findJSON {
		return printJSON(cmd, docs)
	}
	return printDocuments(cmd, docs)
}

func runFindField(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	path := splitPath(args[0])
	if len(path) == 0 {
		return errors.New("path must name at least one key")
	}
	var pred metadata.Predicate
	if len(args) == 2 {
		p, err := metadata.ParsePredicate(findOp, args[1])
		if err != nil {
			return err
		}
		pred = p
	}

	docs, err := docIndexer.Accessor().QueryByExtractedField(cmd.Context(), path, pred)
	if err != nil {
		return fmt.Errorf("failed to query documents: %w", err)
	}
	if findJSON {
		return printJSON(cmd, docs)
	}
	return printDocuments(cmd, docs)
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}
	out, err := docIndexer.Accessor().RenderDocument(cmd.Context(), args[0], renderVars, renderStrict)
	if err != nil {
		return fmt.Errorf("failed to render document: %w", err)
	}
	cmd.Println(out)
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}
	diff, err := docIndexer.Accessor().CompareVariables(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to compare documents: %w", err)
	}
	if len(diff) == 0 {
		cmd.Println("Variables are identical.")
		return nil
	}
	for _, k := range metadata.SortedKeys(diff) {
		d := diff[k]
		cmd.Printf("  %s\n", k)
		cmd.Printf("    %s %s\n", color.RedString("-"), d.A)
		cmd.Printf("    %s %s\n", color.GreenString("+"), d.B)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	spinner := getSpinner(cmd.ErrOrStderr(), "🔍 Searching...")
	results, err := docIndexer.Search(cmd.Context(), args[0], models.SearchFilter{
		RoomID:   searchRoom,
		DocTypes: searchTypes,
		Limit:    searchLimit,
	})
	_ = spinner.Finish()
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return printJSON(cmd, results)
	}
	return printSearchResults(cmd, results)
}

func printSearchResults(cmd *cobra.Command, results []indexer.SearchResult) error {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	for i, r := range results {
		var headers []string
		for _, h := range r.Headers {
			if h != "" {
				headers = append(headers, h)
			}
		}
		cmd.Printf("[%d] %s (%.3f)\n", i+1, color.CyanString(r.Filename), r.Score)
		if len(headers) > 0 {
			cmd.Printf("    %s\n", strings.Join(headers, " > "))
		}
		cmd.Printf("    %s\n\n", snippet(r.Content, 200))
	}
	return nil
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func runOutline(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	outline, err := docIndexer.Outline(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to build outline: %w", err)
	}
	if outlineJSON {
		return printJSON(cmd, outline)
	}
	if len(outline) == 0 {
		cmd.Println("No sections found. Run `clm index` first.")
		return nil
	}
	for _, sec := range outline {
		title := sec.Title
		if title == "" {
			title = color.HiBlackString("(untitled)")
		}
		cmd.Printf("  %s  %s\n", sec.SectionID, title)
	}
	return nil
}

func runSection(cmd *cobra.Command, args []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	sc, err := docIndexer.SectionContext(cmd.Context(), args[0], args[1], sectionNeighbors)
	if err != nil {
		return fmt.Errorf("failed to get section: %w", err)
	}
	if sectionJSON {
		return printJSON(cmd, sc)
	}
	for i, sec := range sc.Sections {
		if i > 0 {
			cmd.Println()
		}
		header := "[" + sec.Title + "]"
		if sec.SectionID == sc.MainSectionID {
			header = color.CyanString(header)
		}
		cmd.Println(header)
		cmd.Println(strings.TrimSpace(sec.Content))
	}
	return nil
}
