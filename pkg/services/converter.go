package services

import (
	"context"
	"io"

	"github.com/smartclm/clm/internal/types"
)

const DefaultConverterURL = "http://localhost:8001"

var _ types.Converter = (*ConverterClient)(nil)

// ConverterClient talks to the document converter, which turns office files
// (docx, hwp, ...) into PDF.
type ConverterClient struct {
	*client
}

func NewConverterClient(config ClientConfig) (*ConverterClient, error) {
	c, err := newClient("doc-converter", DefaultConverterURL, config)
	if err != nil {
		return nil, err
	}
	return &ConverterClient{client: c}, nil
}

// Convert uploads the file and returns the PDF bytes.
func (c *ConverterClient) Convert(ctx context.Context, filename string, r io.Reader) ([]byte, error) {
	return c.postFile(ctx, "convert", filename, r, nil)
}
