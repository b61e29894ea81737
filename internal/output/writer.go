// Package output serializes extraction outcomes for the CLI.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Format represents output format types.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat resolves a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatJSONL, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// Record is one document's outcome as written to the output stream.
type Record struct {
	Document string         `json:"document" yaml:"document"`
	Strategy string         `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration  `json:"-" yaml:"-"`
	Millis   int64          `json:"duration_ms" yaml:"duration_ms"`
}

// NewRecord builds a record from a strategy outcome.
func NewRecord(document, strategy string, data map[string]any, err error, d time.Duration) Record {
	r := Record{
		Document: document,
		Strategy: strategy,
		Data:     data,
		Duration: d,
		Millis:   d.Milliseconds(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Writer handles output serialization.
type Writer interface {
	// Write outputs a single record.
	Write(r Record) error

	// Close flushes buffered records and releases resources.
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	pretty bool
	indent string
}

// WithPretty enables pretty-printing.
func WithPretty(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.pretty = enabled
	}
}

// WithIndent sets the indentation string.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{pretty: true, indent: "  "}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatJSON:
		return &jsonWriter{w: w, pretty: cfg.pretty, indent: cfg.indent}, nil
	case FormatJSONL:
		return &jsonlWriter{w: w}, nil
	case FormatYAML:
		return &yamlWriter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
