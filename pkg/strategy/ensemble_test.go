package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/docsmith/pkg/provider"
)

func echoJudge() *mockProvider {
	return newMock("judge", func(_ int, req *provider.Request) (provider.Result, error) {
		return provider.Result{"candidates": len(req.Candidates)}, nil
	})
}

func TestNewEnsemble_Validation(t *testing.T) {
	_, err := NewEnsemble(nil, echoJudge())
	assert.ErrorIs(t, err, ErrNoProviders)
	_, err = NewEnsemble([]provider.Provider{returns("a", nil)}, nil)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestEnsemble_JudgeSeesExactlyTheSurvivors(t *testing.T) {
	judge := echoJudge()
	members := []provider.Provider{
		returns("a", provider.Result{"v": "a"}),
		fails("b", errors.New("b down")),
		returns("c", provider.Result{"v": "c"}),
	}

	e, err := NewEnsemble(members, judge)
	require.NoError(t, err)

	res, err := e.Process(context.Background(), textRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, 2, res["candidates"])
	assert.Equal(t, "synthesized", res[MetaEnsembleStatus])
	assert.Equal(t, 2, res[MetaEnsembleVotes])

	require.Equal(t, 1, judge.Calls())
	got := judge.Requests()[0].Candidates
	assert.Equal(t, []provider.Result{{"v": "a"}, {"v": "c"}}, got, "survivors in member order")
	assert.Contains(t, judge.Requests()[0].Instruction, "Original task: extract")
}

func TestEnsemble_RunsMembersConcurrently(t *testing.T) {
	const n = 3
	started := make(chan struct{}, n)
	release := make(chan struct{})
	var members []provider.Provider
	for range n {
		members = append(members, provider.Func{ID: "m", Fn: func(ctx context.Context, _ *provider.Request) (provider.Result, error) {
			started <- struct{}{}
			<-release
			return provider.Result{"ok": true}, nil
		}})
	}
	e, err := NewEnsemble(members, echoJudge())
	require.NoError(t, err)

	out := e.ProcessAsync(context.Background(), textRequest("x"))
	for range n {
		<-started
	}
	close(release)

	o := <-out
	require.NoError(t, o.Err)
	assert.Equal(t, n, o.Result["candidates"])
}

func TestEnsemble_AllMembersFail(t *testing.T) {
	cause := errors.New("b down")
	judge := echoJudge()
	e, err := NewEnsemble([]provider.Provider{fails("a", errors.New("a down")), fails("b", cause)}, judge)
	require.NoError(t, err)

	_, err = e.Process(context.Background(), textRequest("x"))
	assert.ErrorIs(t, err, ErrConsensus)
	assert.ErrorIs(t, err, cause)
	assert.Zero(t, judge.Calls())
}

func TestEnsemble_JudgeFailurePropagates(t *testing.T) {
	e, err := NewEnsemble([]provider.Provider{returns("a", provider.Result{"v": 1})}, fails("judge", errors.New("judge down")))
	require.NoError(t, err)

	_, err = e.Process(context.Background(), textRequest("x"))
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.NotErrorIs(t, err, ErrConsensus)
}
