package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// Detector finds one kind of personal data.
type Detector struct {
	Label   string // upper-case, used in tokens: [LABEL_n], n from 0
	Pattern *regexp.Regexp
}

// DefaultDetectors returns the built-in detectors. Order matters: earlier
// detectors claim text before later ones see it.
func DefaultDetectors() []Detector {
	return []Detector{
		{Label: "EMAIL", Pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
		{Label: "CREDIT_CARD", Pattern: regexp.MustCompile(`\b(?:\d{4}[\s\-]?){3}\d{4}\b`)},
		{Label: "SSN", Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{Label: "IPV4", Pattern: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
		{Label: "PHONE", Pattern: regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`)},
	}
}

// RedactionMap records the tokens issued while redacting one request.
// It is not safe for concurrent use and is never persisted.
type RedactionMap struct {
	detectors []Detector
	tokenRE   *regexp.Regexp
	original  map[string]string // token -> value
	token     map[string]string // value -> token
	counts    map[string]int
}

// NewRedactionMap returns an empty map for the given detectors.
func NewRedactionMap(detectors []Detector) *RedactionMap {
	labels := make([]string, len(detectors))
	for i, d := range detectors {
		labels[i] = regexp.QuoteMeta(d.Label)
	}
	return &RedactionMap{
		detectors: detectors,
		tokenRE:   regexp.MustCompile(`\[(?:` + strings.Join(labels, "|") + `)_\d+\]`),
		original:  map[string]string{},
		token:     map[string]string{},
		counts:    map[string]int{},
	}
}

// Len returns the number of distinct values redacted.
func (m *RedactionMap) Len() int { return len(m.original) }

// Redact replaces every detected value in text with its token. The same
// value always maps to the same token.
func (m *RedactionMap) Redact(text string) string {
	for _, d := range m.detectors {
		text = d.Pattern.ReplaceAllStringFunc(text, func(v string) string {
			if tok, ok := m.token[v]; ok {
				return tok
			}
			tok := "[" + d.Label + "_" + strconv.Itoa(m.counts[d.Label]) + "]"
			m.counts[d.Label]++
			m.token[v] = tok
			m.original[tok] = v
			return tok
		})
	}
	return text
}

// RestoreString puts original values back into s.
func (m *RedactionMap) RestoreString(s string) (string, error) {
	var unknown string
	out := m.tokenRE.ReplaceAllStringFunc(s, func(tok string) string {
		if v, ok := m.original[tok]; ok {
			return v
		}
		if unknown == "" {
			unknown = tok
		}
		return tok
	})
	if unknown != "" {
		return "", fmt.Errorf("%w: %s", ErrRedactionLeakage, unknown)
	}
	return out, nil
}

// Restore walks v, restoring tokens in strings, map keys and nested
// containers of any type. Values it cannot rebuild, such as structs, are
// returned unchanged unless they hold a token, which fails closed.
func (m *RedactionMap) Restore(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return m.RestoreString(t)
	case provider.Result:
		out, err := m.restoreMap(t)
		return provider.Result(out), err
	case map[string]any:
		return m.restoreMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := m.Restore(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			r, err := m.RestoreString(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return m.restoreValue(v)
	}
}

// restoreValue handles types outside the decoded-JSON shapes by reflection.
func (m *RedactionMap) restoreValue(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return v, nil
	case reflect.String:
		s, err := m.RestoreString(rv.String())
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(s).Convert(rv.Type()).Interface(), nil
	case reflect.Slice, reflect.Array:
		var out reflect.Value
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return v, nil
			}
			out = reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		} else {
			out = reflect.New(rv.Type()).Elem()
		}
		for i := range rv.Len() {
			e, err := m.restoreElem(rv.Index(i), rv.Type().Elem())
			if err != nil {
				return nil, err
			}
			out.Index(i).Set(e)
		}
		return out.Interface(), nil
	case reflect.Map:
		if rv.IsNil() {
			return v, nil
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := m.restoreElem(iter.Key(), rv.Type().Key())
			if err != nil {
				return nil, err
			}
			e, err := m.restoreElem(iter.Value(), rv.Type().Elem())
			if err != nil {
				return nil, err
			}
			out.SetMapIndex(k, e)
		}
		return out.Interface(), nil
	default:
		return v, m.scan(v)
	}
}

func (m *RedactionMap) restoreElem(e reflect.Value, typ reflect.Type) (reflect.Value, error) {
	r, err := m.Restore(e.Interface())
	if err != nil {
		return reflect.Value{}, err
	}
	if r == nil {
		return reflect.Zero(typ), nil
	}
	return reflect.ValueOf(r), nil
}

// scan fails when v holds a token but cannot be rebuilt with the original.
func (m *RedactionMap) scan(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: cannot inspect %T: %v", ErrRedactionLeakage, v, err)
	}
	if tok := m.tokenRE.Find(data); tok != nil {
		return fmt.Errorf("%w: %s in %T", ErrRedactionLeakage, tok, v)
	}
	return nil
}

func (m *RedactionMap) restoreMap(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		rk, err := m.RestoreString(k)
		if err != nil {
			return nil, err
		}
		rv, err := m.Restore(v)
		if err != nil {
			return nil, err
		}
		out[rk] = rv
	}
	return out, nil
}

// Privacy redacts personal data before the inner strategy sees the
// document and restores it in the result.
type Privacy struct {
	base
	inner     provider.Provider
	detectors []Detector
}

// NewPrivacy returns a Privacy strategy. Nil detectors means
// DefaultDetectors.
func NewPrivacy(inner provider.Provider, detectors []Detector, opts ...Option) *Privacy {
	if detectors == nil {
		detectors = DefaultDetectors()
	}
	return &Privacy{base: newBase("privacy", retry.None, opts), inner: inner, detectors: detectors}
}

// Process implements Strategy.
func (p *Privacy) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return p.run(ctx, req, p.process)
}

// ProcessAsync implements Strategy.
func (p *Privacy) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return async(ctx, req, p.Process)
}

func (p *Privacy) process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	doc, err := p.load(ctx, req)
	if err != nil {
		return nil, err
	}

	rm := NewRedactionMap(p.detectors)
	rreq := req.Clone()
	rreq.SetContent(rm.Redact(doc.Text))
	rreq.Instruction = rm.Redact(req.Instruction)
	rreq.MIMEType = doc.MIMEType
	logger.Debug("redacted document", "document", req.DocumentRef, "values", rm.Len())

	res, err := p.inner.Process(ctx, rreq)
	if err != nil {
		return nil, &Error{Strategy: p.name, Provider: p.inner.Name(), Err: err}
	}
	if res == nil {
		return nil, nil
	}
	restored, err := rm.Restore(res)
	if err != nil {
		return nil, &Error{Strategy: p.name, Provider: p.inner.Name(), Err: err}
	}
	return restored.(provider.Result), nil
}
