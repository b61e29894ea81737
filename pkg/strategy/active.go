package strategy

import (
	"context"
	"encoding/json"
	"math"
	"slices"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// Metadata keys set by ActiveLearning.
const (
	MetaConfidence      = "_confidence"
	MetaRequiresReview  = "_requires_review"
	MetaFieldConfidence = "_field_confidence"
	MetaTrials          = "_trials"
	MetaFailedTrials    = "_failed_trials"
)

// Defaults for NewActiveLearning.
const (
	DefaultTrials              = 3
	DefaultConfidenceThreshold = 0.8
)

// ActiveLearning runs the inner strategy several times and keeps the
// majority value of each field, scoring how strongly the trials agreed.
type ActiveLearning struct {
	base
	inner     provider.Provider
	trials    int
	threshold float64
}

// NewActiveLearning returns an ActiveLearning strategy. Non-positive trials
// and a negative threshold fall back to the defaults. A zero threshold never
// flags a result for review.
func NewActiveLearning(inner provider.Provider, trials int, threshold float64, opts ...Option) *ActiveLearning {
	if trials <= 0 {
		trials = DefaultTrials
	}
	if threshold < 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &ActiveLearning{
		base:      newBase("active_learning", retry.None, opts),
		inner:     inner,
		trials:    trials,
		threshold: threshold,
	}
}

// Threshold returns the confidence below which results are flagged.
func (a *ActiveLearning) Threshold() float64 { return a.threshold }

// Process implements Strategy.
func (a *ActiveLearning) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return a.run(ctx, req, a.process)
}

// ProcessAsync implements Strategy.
func (a *ActiveLearning) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return async(ctx, req, a.Process)
}

func (a *ActiveLearning) process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	var (
		results []provider.Result
		lastErr error
	)
	for i := range a.trials {
		res, err := a.inner.Process(ctx, req)
		if err != nil {
			logger.Debug("trial failed", "strategy", a.name, "trial", i+1, "error", err)
			lastErr = err
			continue
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return nil, &Error{Strategy: a.name, Provider: a.inner.Name(), Err: lastErr}
	}

	out, fieldConf := vote(results, a.trials)
	confidence := 0.0
	if len(fieldConf) > 0 {
		sum := 0.0
		for _, c := range fieldConf {
			sum += c
		}
		confidence = round2(sum / float64(len(fieldConf)))
	}

	out.SetMeta(MetaConfidence, confidence)
	out.SetMeta(MetaRequiresReview, confidence < a.threshold)
	out.SetMeta(MetaFieldConfidence, fieldConf)
	out.SetMeta(MetaTrials, a.trials)
	out.SetMeta(MetaFailedTrials, a.trials-len(results))
	return out, nil
}

// vote picks the majority value for every data field seen in any result.
// Scores are divided by total, so missing fields and failed trials count
// against agreement. Ties go to the value seen first.
func vote(results []provider.Result, total int) (provider.Result, map[string]float64) {
	var fields []string
	seen := map[string]bool{}
	for _, r := range results {
		keys := make([]string, 0, len(r))
		for k := range r.Data() {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}

	out := provider.Result{}
	conf := make(map[string]float64, len(fields))
	for _, f := range fields {
		type tally struct {
			value any
			votes int
		}
		var order []string
		counts := map[string]*tally{}
		for _, r := range results {
			v, ok := r[f]
			if !ok {
				continue
			}
			key := canonical(v)
			if t, ok := counts[key]; ok {
				t.votes++
				continue
			}
			counts[key] = &tally{value: v, votes: 1}
			order = append(order, key)
		}

		var best *tally
		for _, key := range order {
			if t := counts[key]; best == nil || t.votes > best.votes {
				best = t
			}
		}
		out[f] = best.value
		conf[f] = round2(float64(best.votes) / float64(total))
	}
	return out, conf
}

// canonical renders v as JSON; encoding/json sorts map keys, so equal
// values compare equal.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "!" + err.Error()
	}
	return string(b)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
