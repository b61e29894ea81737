package strategy

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

// Metadata keys set by Ensemble.
const (
	MetaEnsembleStatus = "_ensemble_status"
	MetaEnsembleVotes  = "_ensemble_votes"
)

const judgePrompt = `You are given %d candidate results extracted independently from the same document.
Reconcile them into a single result: prefer values the candidates agree on, and where they disagree pick the value best supported by the document.

Original task: %s`

// Ensemble runs every member concurrently and asks a judge to reconcile
// the successful results.
type Ensemble struct {
	base
	members []provider.Provider
	judge   provider.Provider
}

// NewEnsemble returns an Ensemble. Without WithRetry each member and the
// judge get a single attempt.
func NewEnsemble(members []provider.Provider, judge provider.Provider, opts ...Option) (*Ensemble, error) {
	if len(members) == 0 || judge == nil {
		return nil, ErrNoProviders
	}
	return &Ensemble{base: newBase("ensemble", retry.None, opts), members: members, judge: judge}, nil
}

// Process implements Strategy.
func (e *Ensemble) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return e.run(ctx, req, e.process)
}

// ProcessAsync implements Strategy.
func (e *Ensemble) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return async(ctx, req, e.Process)
}

func (e *Ensemble) process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	results := make([]provider.Result, len(e.members))
	errs := make([]error, len(e.members))

	// Members fail independently, so the group never cancels siblings.
	var g errgroup.Group
	for i, m := range e.members {
		g.Go(func() error {
			results[i], errs[i] = e.invoker.Call(ctx, e.name, m, req)
			return nil
		})
	}
	_ = g.Wait()

	var survivors []provider.Result
	for i, r := range results {
		if errs[i] == nil {
			survivors = append(survivors, r)
		}
	}
	if len(survivors) == 0 {
		return nil, &Error{Strategy: e.name, Err: fmt.Errorf("%w: %w", ErrConsensus, errors.Join(errs...))}
	}
	logger.Debug("ensemble members finished",
		"members", len(e.members),
		"succeeded", len(survivors))

	jreq := req.Clone()
	jreq.Candidates = survivors
	jreq.Instruction = fmt.Sprintf(judgePrompt, len(survivors), req.Instruction)

	res, err := e.invoker.Call(ctx, e.name, e.judge, jreq)
	if err != nil {
		return nil, err
	}
	out := res.Clone()
	out.SetMeta(MetaEnsembleStatus, "synthesized")
	out.SetMeta(MetaEnsembleVotes, len(survivors))
	return out, nil
}
