// Package services holds HTTP clients for the document conversion and parsing
// services that sit in front of the chunker.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smartclm/clm/pkg/logger"
	"golang.org/x/time/rate"
)

type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration // per upload; conversion of large files is slow
	HealthTimeout time.Duration
	RateLimit     float64 // requests per second
	Logger        *logger.Logger
}

type client struct {
	name    string
	config  ClientConfig
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

func newClient(name, defaultURL string, config ClientConfig) (*client, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.HealthTimeout == 0 {
		config.HealthTimeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s url: %w", name, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid %s url %q", name, config.BaseURL)
	}

	return &client{
		name:    name,
		config:  config,
		base:    base,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     logger.OrNop(config.Logger).With("service", name),
	}, nil
}

// postFile uploads r as the multipart field "file" together with fields and
// returns the response body of a 200 reply.
func (c *client) postFile(ctx context.Context, path, filename string, r io.Reader, fields map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(path).String(), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("request failed", "path", path, "status", resp.StatusCode)
		return nil, &StatusError{Service: c.name, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	c.log.Debug("request completed", "path", path, "file", filename, "elapsed", time.Since(start))
	return data, nil
}

// Health returns the service's /health document. Failures are reported in the
// map as {"status": "error", "error": ...} rather than as an error value.
func (c *client) Health(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	result, err := c.health(ctx)
	if err != nil {
		c.log.Error("health check failed", "error", err)
		return map[string]any{"status": "error", "error": err.Error()}
	}
	return result
}

func (c *client) health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("health").String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid health response (HTTP %d): %w", resp.StatusCode, err)
	}
	return result, nil
}

// StatusError is returned when a service answers with a non-200 status.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (status: %d): %s", e.Service, e.Code, e.Body)
}
