package strategy

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/document"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// Classifier labels a document for routing. An empty label means the
// document could not be classified.
type Classifier func(doc *document.Document) string

// Router classifies each document and delegates the whole request to the
// strategy registered for its label.
type Router struct {
	base
	classify     Classifier
	routes       map[string]provider.Provider
	defaultRoute string
}

// NewRouter returns a Router. defaultRoute, when non-empty, names the
// route used for unknown labels and must exist in routes.
func NewRouter(classify Classifier, routes map[string]provider.Provider, defaultRoute string, opts ...Option) (*Router, error) {
	if classify == nil {
		return nil, fmt.Errorf("router: classifier is required")
	}
	if len(routes) == 0 {
		return nil, ErrNoProviders
	}
	if defaultRoute != "" {
		if _, ok := routes[defaultRoute]; !ok {
			return nil, fmt.Errorf("router: default route %q is not defined", defaultRoute)
		}
	}
	return &Router{
		base:         newBase("router", retry.None, opts),
		classify:     classify,
		routes:       maps.Clone(routes),
		defaultRoute: defaultRoute,
	}, nil
}

// Routes returns the configured labels in sorted order.
func (r *Router) Routes() []string {
	return slices.Sorted(maps.Keys(r.routes))
}

// Process implements Strategy.
func (r *Router) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return r.run(ctx, req, r.route)
}

// ProcessAsync implements Strategy.
func (r *Router) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return async(ctx, req, r.Process)
}

func (r *Router) route(ctx context.Context, req *provider.Request) (provider.Result, error) {
	doc, err := r.load(ctx, req)
	if err != nil {
		return nil, err
	}

	label := r.classify(doc)
	target, ok := r.routes[label]
	if !ok && r.defaultRoute != "" {
		logger.Debug("no route for label, using default", "label", label, "default", r.defaultRoute)
		label, target, ok = r.defaultRoute, r.routes[r.defaultRoute], true
	}
	if !ok {
		return nil, &Error{Strategy: r.name, Err: fmt.Errorf("%w: %q", ErrUnroutable, label)}
	}
	logger.Debug("routing document", "document", req.DocumentRef, "label", label, "target", target.Name())

	res, err := target.Process(ctx, req)
	if err != nil {
		return nil, &Error{Strategy: r.name, Provider: target.Name(), Err: err}
	}
	return res, nil
}

// KeywordClassifier returns a Classifier that picks the label whose
// keywords occur most often in the document text, ignoring case. Ties go
// to the alphabetically first label. No hits yields "".
func KeywordClassifier(keywords map[string][]string) Classifier {
	labels := slices.Sorted(maps.Keys(keywords))
	lowered := make(map[string][]string, len(keywords))
	for label, kws := range keywords {
		for _, kw := range kws {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				lowered[label] = append(lowered[label], kw)
			}
		}
	}

	return func(doc *document.Document) string {
		text := strings.ToLower(doc.Text)
		best, bestScore := "", 0
		for _, label := range labels {
			score := 0
			for _, kw := range lowered[label] {
				score += strings.Count(text, kw)
			}
			if score > bestScore {
				best, bestScore = label, score
			}
		}
		return best
	}
}
