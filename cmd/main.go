package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/smartclm/clm/internal/types"
	"github.com/smartclm/clm/pkg/config"
	"github.com/smartclm/clm/pkg/indexer"
	"github.com/smartclm/clm/pkg/llm"
	"github.com/smartclm/clm/pkg/logger"
	"github.com/smartclm/clm/pkg/processor"
	"github.com/smartclm/clm/pkg/services"
	"github.com/smartclm/clm/pkg/store"
	"github.com/spf13/cobra"
)

// skipSetup marks commands that run without a store.
const skipSetup = "skip-setup"

var (
	configPath string

	cfg        *config.Config
	appLog     *logger.Logger
	docStore   types.DocumentStore
	docIndexer *indexer.Indexer
	ownsStore  bool
)

var rootCmd = &cobra.Command{
	Use:   "clm",
	Short: "Contract document metadata store",
	Long: `clm stores contracts, laws, cases and guidelines together with their
structured metadata, and indexes their text for similarity search.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentPreRunE = setupServices
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) { closeServices() }
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		closeServices()
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func setupServices(cmd *cobra.Command, _ []string) error {
	if docIndexer != nil || cmd.Annotations[skipSetup] == "true" {
		return nil
	}

	c, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verrs := c.Validate(); len(verrs) > 0 {
		errs := make([]error, 0, len(verrs))
		for _, v := range verrs {
			errs = append(errs, v)
		}
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	log, err := logger.New(c.Log.Mode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStore(ctx, c, log)
	if err != nil {
		return err
	}

	ix, err := newIndexer(c, st, log)
	if err != nil {
		st.Close()
		return err
	}

	cfg, appLog, docStore, docIndexer, ownsStore = c, log, st, ix, true
	return nil
}

func openStore(ctx context.Context, c *config.Config, log *logger.Logger) (types.DocumentStore, error) {
	switch c.Database.Driver {
	case config.DriverPostgres:
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString:    c.Database.URL,
			DocumentTable: c.Database.DocumentTable,
			ChunkTable:    c.Database.ChunkTable,
			RoomTable:     c.Database.RoomTable,
			VectorDim:     c.Database.VectorDim,
			SearchLimit:   c.Database.SearchLimit,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		return vs, nil
	default:
		ls, err := store.NewLocalStore(ctx, c.Database.Path, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local store: %w", err)
		}
		return ls, nil
	}
}

func newIndexer(c *config.Config, st types.DocumentStore, log *logger.Logger) (*indexer.Indexer, error) {
	ixConfig := indexer.IndexerConfig{
		Store: st,
		Processor: processor.NewWithConfig(processor.ProcessorConfig{
			ChildThreshold: c.Processor.ChildThreshold,
			ChunkSize:      c.Processor.ChunkSize,
			ChunkOverlap:   c.Processor.ChunkOverlap,
		}),
		BatchSize: c.Embedder.BatchSize,
		Logger:    log,
	}

	if c.Embedder.Enabled {
		emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Model:     c.Embedder.Model,
			BaseURL:   c.Embedder.BaseURL,
			BatchSize: c.Embedder.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		ixConfig.Embedder = emb
	}

	conv, err := services.NewConverterClient(clientConfig(c.Converter, log))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize converter client: %w", err)
	}
	parser, err := services.NewParserClient(clientConfig(c.Parser, log))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize parser client: %w", err)
	}
	ixConfig.Converter = conv
	ixConfig.Parser = parser

	return indexer.NewWithConfig(ixConfig)
}

func clientConfig(s config.ServiceConfig, log *logger.Logger) services.ClientConfig {
	return services.ClientConfig{
		BaseURL:   s.URL,
		Timeout:   time.Duration(s.TimeoutSeconds) * time.Second,
		RateLimit: s.RateLimit,
		Logger:    log,
	}
}

func closeServices() {
	if ownsStore && docStore != nil {
		docStore.Close()
		appLog.Sync()
		docStore, docIndexer, ownsStore = nil, nil, false
	}
}

func requireIndexer() error {
	if docIndexer == nil {
		return errors.New("document store not configured")
	}
	return nil
}

func getProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// embedProgress returns an indexer.Progress that draws a bar once the number
// of chunks to embed is known.
func embedProgress(w io.Writer, description string) (indexer.Progress, func()) {
	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = getProgressBar(w, total, description)
		}
		_ = bar.Set(done)
	}
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			fmt.Fprintln(w)
		}
	}
	return progress, finish
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func splitPath(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ".") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
