package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/retry"
)

func retryNone() retry.Config { return retry.None }

func TestBatch_CountsAlwaysAddUp(t *testing.T) {
	for _, failEvery := range []int{0, 1, 2, 3} {
		t.Run(fmt.Sprintf("fail every %d", failEvery), func(t *testing.T) {
			p := provider.Func{ID: "p", Fn: func(_ context.Context, req *provider.Request) (provider.Result, error) {
				var n int
				_, _ = fmt.Sscanf(req.DocumentRef, "doc-%d", &n)
				if failEvery > 0 && n%failEvery == 0 {
					return nil, errors.New("bad document")
				}
				return provider.Result{"doc": req.DocumentRef}, nil
			}}

			docs := make([]string, 10)
			for i := range docs {
				docs[i] = fmt.Sprintf("doc-%d", i)
			}

			bc := NewBatch(p, 3, WithRetry(retryNone())).ProcessBatch(context.Background(), docs, "extract", nil)
			assert.Equal(t, 10, bc.TotalDocuments)
			assert.Equal(t, bc.TotalDocuments, bc.CompletedCount()+bc.FailedCount())
			assert.Len(t, bc.Results(), 10)
			assert.NotEmpty(t, bc.ID)
			assert.False(t, bc.FinishedAt.IsZero())

			if failEvery == 0 {
				assert.NoError(t, bc.Err())
			} else {
				assert.ErrorIs(t, bc.Err(), ErrBatchPartialFailure)
			}
		})
	}
}

func TestBatch_RespectsWorkerLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	p := provider.Func{ID: "p", Fn: func(context.Context, *provider.Request) (provider.Result, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return provider.Result{"ok": true}, nil
	}}

	b := NewBatch(p, 2)
	out := b.ProcessBatchAsync(context.Background(), []string{"a", "b", "c", "d", "e"}, "x", nil)
	close(release)
	bc := <-out

	assert.Equal(t, 5, bc.CompletedCount())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBatch_OutcomesKeyedByDocument(t *testing.T) {
	p := provider.Func{ID: "p", Fn: func(_ context.Context, req *provider.Request) (provider.Result, error) {
		if strings.HasPrefix(req.DocumentRef, "bad") {
			return nil, errors.New("unreadable")
		}
		return provider.Result{"instruction": req.Instruction}, nil
	}}

	bc := NewBatch(p, 4, WithRetry(retryNone())).
		ProcessBatch(context.Background(), []string{"a.txt", "bad.txt", "a.txt"}, "read it", nil)

	results := bc.Results()
	require.Len(t, results, 3)
	assert.Contains(t, results, "a.txt#0")
	assert.Contains(t, results, "a.txt#2")
	assert.Equal(t, "read it", results["a.txt#0"].Result["instruction"])
	assert.Equal(t, "a.txt", results["a.txt#2"].Ref)
	assert.ErrorContains(t, results["bad.txt"].Err, "unreadable")
	assert.ErrorContains(t, bc.Err(), "bad.txt")
	assert.Equal(t, 1, bc.FailedCount())
}

func TestBatch_EmptyInput(t *testing.T) {
	bc := NewBatch(returns("p", nil), 0).ProcessBatch(context.Background(), nil, "x", nil)
	assert.Zero(t, bc.TotalDocuments)
	assert.Zero(t, bc.CompletedCount()+bc.FailedCount())
	assert.NoError(t, bc.Err())
}

func TestBatch_SingleDocumentProcess(t *testing.T) {
	b := NewBatch(returns("p", provider.Result{"a": 1}), 2)
	assert.Equal(t, "batch", b.Name())
	assert.Equal(t, 2, b.MaxWorkers())

	res, err := b.Process(context.Background(), textRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, provider.Result{"a": 1}, res)
}
