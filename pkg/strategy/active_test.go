package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/docsmith/pkg/provider"
)

func scripted(name string, results ...provider.Result) *mockProvider {
	return newMock(name, func(call int, _ *provider.Request) (provider.Result, error) {
		r := results[(call-1)%len(results)]
		if r == nil {
			return nil, errors.New("trial failed")
		}
		return r.Clone(), nil
	})
}

func TestActiveLearning_TwoOfThreeAgree(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		review    bool
	}{
		{"zero threshold never flags", 0, false},
		{"negative threshold uses default", -1, true},
		{"threshold below agreement", 0.6, false},
		{"threshold at agreement", 0.67, false},
		{"threshold above agreement", 0.7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := scripted("inner",
				provider.Result{"total": 10.5},
				provider.Result{"total": 10.5},
				provider.Result{"total": 99.0},
			)

			res, err := NewActiveLearning(inner, 3, tt.threshold).Process(context.Background(), textRequest("x"))
			require.NoError(t, err)
			assert.Equal(t, 3, inner.Calls())
			assert.Equal(t, 10.5, res["total"])
			assert.Equal(t, 0.67, res[MetaConfidence])
			assert.Equal(t, tt.review, res[MetaRequiresReview])
			assert.Equal(t, map[string]float64{"total": 0.67}, res[MetaFieldConfidence])
		})
	}
}

func TestActiveLearning_PerFieldVoting(t *testing.T) {
	inner := scripted("inner",
		provider.Result{"name": "Acme", "items": []any{"a", "b"}, "_meta": "ignored"},
		provider.Result{"name": "ACME", "items": []any{"a", "b"}},
		provider.Result{"name": "Acme", "items": []any{"a", "b"}, "extra": 1},
		provider.Result{"name": "ACME", "items": []any{"b"}},
	)

	res, err := NewActiveLearning(inner, 4, 0.8).Process(context.Background(), textRequest("x"))
	require.NoError(t, err)

	assert.Equal(t, "Acme", res["name"], "ties go to the first value seen")
	assert.Equal(t, []any{"a", "b"}, res["items"])
	assert.Equal(t, 1, res["extra"])
	assert.NotContains(t, res, "_meta")
	assert.Equal(t, map[string]float64{"name": 0.5, "items": 0.75, "extra": 0.25}, res[MetaFieldConfidence])
	assert.Equal(t, 0.5, res[MetaConfidence])
	assert.Equal(t, true, res[MetaRequiresReview])
}

func TestActiveLearning_FailedTrialsCountAgainst(t *testing.T) {
	inner := scripted("inner", provider.Result{"a": 1}, nil, provider.Result{"a": 1})

	res, err := NewActiveLearning(inner, 3, 0.5).Process(context.Background(), textRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, 0.67, res[MetaConfidence])
	assert.Equal(t, 1, res[MetaFailedTrials])
	assert.Equal(t, 3, res[MetaTrials])
}

func TestActiveLearning_AllTrialsFail(t *testing.T) {
	_, err := NewActiveLearning(scripted("inner", nil), 3, 0.8).Process(context.Background(), textRequest("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trial failed")
}

func TestActiveLearning_NoFieldsMeansZeroConfidence(t *testing.T) {
	res, err := NewActiveLearning(scripted("inner", provider.Result{}), 2, 0.8).Process(context.Background(), textRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res[MetaConfidence])
	assert.Equal(t, true, res[MetaRequiresReview])
}
