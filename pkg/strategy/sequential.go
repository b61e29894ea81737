package strategy

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// DefaultChunkSizePages is used when NewSequential is given a
// non-positive chunk size.
const DefaultChunkSizePages = 5

// Sequential splits a document into page chunks, processes each chunk in
// order and merges the results. Later chunks win on colliding keys.
type Sequential struct {
	base
	inner     provider.Provider
	chunkSize int
}

// NewSequential returns a Sequential strategy over inner.
func NewSequential(inner provider.Provider, chunkSizePages int, opts ...Option) *Sequential {
	if chunkSizePages <= 0 {
		chunkSizePages = DefaultChunkSizePages
	}
	return &Sequential{base: newBase("sequential", retry.None, opts), inner: inner, chunkSize: chunkSizePages}
}

// ChunkSize returns the number of pages per chunk.
func (s *Sequential) ChunkSize() int { return s.chunkSize }

// Process implements Strategy.
func (s *Sequential) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return s.run(ctx, req, s.process)
}

// ProcessAsync implements Strategy.
func (s *Sequential) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return async(ctx, req, s.Process)
}

func (s *Sequential) process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	doc, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := doc.Chunks(s.chunkSize)
	logger.Debug("processing document in chunks",
		"document", req.DocumentRef,
		"pages", len(doc.Pages),
		"chunks", len(chunks))

	merged := provider.Result{}
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			logger.Debug("skipping blank chunk", "document", req.DocumentRef, "start", c.Start, "end", c.End)
			continue
		}
		creq := req.Clone()
		creq.SetContent(c.Text)
		if creq.MIMEType == "" {
			creq.MIMEType = doc.MIMEType
		}
		creq.WithOption("page_start", c.Start).WithOption("page_end", c.End)

		res, err := s.inner.Process(ctx, creq)
		if err != nil {
			return nil, &Error{
				Strategy: s.name,
				Provider: s.inner.Name(),
				Err:      fmt.Errorf("pages %d-%d: %w", c.Start, c.End, err),
			}
		}
		maps.Copy(merged, res)
	}
	return merged, nil
}
