// Package document loads source documents and renders them to text pages.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
)

// PageSeparator splits pages in rendered text. It matches the form feed
// emitted by common PDF-to-text tools.
const PageSeparator = "\f"

// ErrUnsupportedType is returned when a document cannot be rendered to text.
var ErrUnsupportedType = errors.New("unsupported document type")

// Document is a loaded, text-rendered document.
type Document struct {
	Ref      string
	MIMEType string
	Size     int64
	Text     string
	Pages    []string
}

// Chunk is a contiguous run of pages. Start and End are 1-based and inclusive.
type Chunk struct {
	Start int
	End   int
	Text  string
}

// Loader resolves a document reference.
type Loader interface {
	Load(ctx context.Context, ref string) (*Document, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref string) (*Document, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, ref string) (*Document, error) { return f(ctx, ref) }

// FromText builds a plain-text document without touching the filesystem.
func FromText(ref, text string) *Document {
	return &Document{
		Ref:      ref,
		MIMEType: "text/plain",
		Size:     int64(len(text)),
		Text:     text,
		Pages:    SplitPages(text),
	}
}

// SplitPages splits text on PageSeparator, dropping a trailing empty page.
func SplitPages(text string) []string {
	pages := strings.Split(text, PageSeparator)
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}

// Chunks groups pages into runs of at most size pages.
func (d *Document) Chunks(size int) []Chunk {
	if size < 1 {
		size = 1
	}
	var out []Chunk
	for start := 0; start < len(d.Pages); start += size {
		end := min(start+size, len(d.Pages))
		out = append(out, Chunk{
			Start: start + 1,
			End:   end,
			Text:  strings.Join(d.Pages[start:end], "\n"),
		})
	}
	return out
}

// FileLoader reads documents from the local filesystem.
type FileLoader struct {
	// MaxBytes rejects larger files. Zero means no limit.
	MaxBytes int64

	// Readability reduces HTML to its main article before rendering.
	// Pages with no identifiable article render in full.
	Readability bool
}

// Load reads ref, detects its MIME type and renders it to text.
func (l FileLoader) Load(ctx context.Context, ref string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if l.MaxBytes > 0 && info.Size() > l.MaxBytes {
		return nil, fmt.Errorf("document %s is %d bytes, limit is %d", ref, info.Size(), l.MaxBytes)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	mt := mimetype.Detect(data)
	var text string
	if l.Readability && mt.Is("text/html") {
		text, err = renderArticle(data)
	} else {
		text, err = Render(mt, data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return &Document{
		Ref:      ref,
		MIMEType: baseType(mt.String()),
		Size:     info.Size(),
		Text:     text,
		Pages:    SplitPages(text),
	}, nil
}

// Render turns raw bytes into text. HTML is reduced to its visible text;
// other text types pass through unchanged.
func Render(mt *mimetype.MIME, data []byte) (string, error) {
	switch {
	case mt.Is("text/html"):
		return renderHTML(data)
	case isText(mt):
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func renderHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, head").Remove()

	var lines []string
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		for _, l := range strings.Split(s.Text(), "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
	})
	return strings.Join(lines, "\n"), nil
}

func baseType(s string) string {
	t, _, _ := strings.Cut(s, ";")
	return strings.TrimSpace(t)
}
