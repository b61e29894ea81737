package document

import (
	"bytes"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
)

// renderArticle extracts the main content of an HTML page with
// go-readability, falling back to the full visible text when the parser
// finds nothing usable.
func renderArticle(data []byte) (string, error) {
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(data), nil)
	if err != nil || article.Node == nil {
		return renderHTML(data)
	}

	var buf bytes.Buffer
	if err := article.RenderText(&buf); err != nil {
		return renderHTML(data)
	}

	var lines []string
	for _, l := range strings.Split(buf.String(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return renderHTML(data)
	}
	return strings.Join(lines, "\n"), nil
}
