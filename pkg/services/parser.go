package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/smartclm/clm/internal/models"
	"github.com/smartclm/clm/internal/types"
)

const DefaultParserURL = "http://localhost:8002"

var _ types.Parser = (*ParserClient)(nil)

// ParserClient talks to the document parser, which extracts markdown and
// HTML from a PDF.
type ParserClient struct {
	*client
	SmartPipeline bool
}

func NewParserClient(config ClientConfig) (*ParserClient, error) {
	c, err := newClient("doc-parser", DefaultParserURL, config)
	if err != nil {
		return nil, err
	}
	return &ParserClient{client: c, SmartPipeline: true}, nil
}

func (c *ParserClient) Analyze(ctx context.Context, filename string, r io.Reader) (*models.ParseResult, error) {
	data, err := c.postFile(ctx, "analyze", filename, r, map[string]string{
		"smart_pipeline": strconv.FormatBool(c.SmartPipeline),
	})
	if err != nil {
		return nil, err
	}

	var result models.ParseResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("invalid parser response: %w", err)
	}
	c.log.Info("pdf parsed", "file", filename, "pages", result.PageCount)
	return &result, nil
}
