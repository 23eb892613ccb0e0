package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Database config
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "database.path",
				Message: "sqlite path is required",
			})
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "postgres connection URL is required",
			})
		} else if !validURL(c.Database.URL) {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unknown driver %q, expected sqlite or postgres", c.Database.Driver),
		})
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.SearchLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.search_limit",
			Message: "search_limit must be positive",
		})
	}

	// Validate Embedder config
	if c.Embedder.Enabled && !validURL(c.Embedder.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Processor.ChildThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.child_threshold",
			Message: "child_threshold must be positive",
		})
	}

	// Validate collaborator services
	services := []struct {
		name string
		cfg  ServiceConfig
	}{{"converter", c.Converter}, {"parser", c.Parser}}
	for _, svc := range services {
		name, s := svc.name, svc.cfg
		if !validURL(s.URL) {
			errors = append(errors, ValidationError{
				Field:   name + ".url",
				Message: "invalid service URL",
			})
		}
		if s.RateLimit <= 0 {
			errors = append(errors, ValidationError{
				Field:   name + ".rate_limit",
				Message: "rate_limit must be positive",
			})
		}
	}

	if c.Log.Mode != "dev" && c.Log.Mode != "prod" {
		errors = append(errors, ValidationError{
			Field:   "log.mode",
			Message: "mode must be dev or prod",
		})
	}

	return errors
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
