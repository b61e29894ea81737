package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/docsmith/pkg/provider"
)

func TestVerified_CallCountAndPrevious(t *testing.T) {
	for _, passes := range []int{0, 1, 3} {
		p := newMock("p", func(call int, _ *provider.Request) (provider.Result, error) {
			return provider.Result{"version": call}, nil
		})

		res, err := NewVerified(p, passes).Process(context.Background(), textRequest("x"))
		require.NoError(t, err)
		assert.Equal(t, 1+passes, p.Calls())
		assert.Equal(t, 1+passes, res["version"])

		reqs := p.Requests()
		assert.Nil(t, reqs[0].Previous)
		for i := 1; i < len(reqs); i++ {
			assert.Equal(t, provider.Result{"version": i}, reqs[i].Previous)
			assert.Equal(t, i, reqs[i].Option("verification_pass"))
			assert.Contains(t, reqs[i].Instruction, "Audit the result")
		}
	}
}

func TestVerified_PassFailurePropagates(t *testing.T) {
	cause := errors.New("audit failed")
	p := newMock("p", func(call int, _ *provider.Request) (provider.Result, error) {
		if call == 2 {
			return nil, cause
		}
		return provider.Result{"ok": true}, nil
	})

	_, err := NewVerified(p, 2, WithRetry(retryNone())).Process(context.Background(), textRequest("x"))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, p.Calls())
}

func TestVerified_NegativePasses(t *testing.T) {
	assert.Zero(t, NewVerified(returns("p", nil), -2).Passes())
}
