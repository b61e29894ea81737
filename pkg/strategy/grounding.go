package strategy

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/jmylchreest/docsmith/pkg/provider"
)

// Ungrounded is an extracted value that does not occur in the source text.
type Ungrounded struct {
	Path  string
	Value string
}

// CheckGrounding reports string values in result that cannot be found in
// source. Comparison ignores case and collapses whitespace. Metadata keys
// and non-string values are skipped.
func CheckGrounding(result provider.Result, source string) []Ungrounded {
	norm := normalizeSpace(source)
	var out []Ungrounded
	walkStrings("", map[string]any(result.Data()), func(path, v string) {
		if nv := normalizeSpace(v); nv != "" && !strings.Contains(norm, nv) {
			out = append(out, Ungrounded{Path: path, Value: v})
		}
	})
	slices.SortFunc(out, func(a, b Ungrounded) int { return strings.Compare(a.Path, b.Path) })
	return out
}

func walkStrings(path string, v any, fn func(path, v string)) {
	switch t := v.(type) {
	case string:
		fn(path, t)
	case provider.Result:
		walkStrings(path, map[string]any(t), fn)
	case map[string]any:
		for k, e := range t {
			walkStrings(joinPath(path, k), e, fn)
		}
	case []any:
		for i, e := range t {
			walkStrings(fmt.Sprintf("%s[%d]", path, i), e, fn)
		}
	case []string:
		for i, e := range t {
			fn(fmt.Sprintf("%s[%d]", path, i), e)
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func normalizeSpace(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}
