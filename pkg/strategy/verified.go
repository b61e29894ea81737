package strategy

import (
	"context"
	"fmt"

	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

const auditPrompt = `Audit the result under review against the document. Correct any value that is wrong or unsupported, fill in values that were missed, and return the full corrected result.

Original task: %s`

// Verified extracts once and then runs a fixed number of audit passes, each
// replacing the working result with the provider's corrected version.
type Verified struct {
	base
	provider provider.Provider
	passes   int
}

// NewVerified returns a Verified strategy. passes below zero are treated
// as zero. Without WithRetry it uses retry.Default.
func NewVerified(p provider.Provider, passes int, opts ...Option) *Verified {
	return &Verified{base: newBase("verified", retry.Default, opts), provider: p, passes: max(passes, 0)}
}

// Passes returns the number of audit passes.
func (v *Verified) Passes() int { return v.passes }

// Process implements Strategy.
func (v *Verified) Process(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return v.run(ctx, req, func(ctx context.Context, req *provider.Request) (provider.Result, error) {
		working, err := v.invoker.Call(ctx, v.name, v.provider, req)
		if err != nil {
			return nil, err
		}
		for pass := 1; pass <= v.passes; pass++ {
			areq := req.Clone()
			areq.Previous = working
			areq.Instruction = fmt.Sprintf(auditPrompt, req.Instruction)
			areq.WithOption("verification_pass", pass)

			working, err = v.invoker.Call(ctx, v.name, v.provider, areq)
			if err != nil {
				return nil, err
			}
		}
		return working, nil
	})
}

// ProcessAsync implements Strategy.
func (v *Verified) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	return async(ctx, req, v.Process)
}
