package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pool(n int) []Result {
	results := make([]Result, n)
	for i := range results {
		results[i] = Result{
			ID:    fmt.Sprintf("r%d", i),
			Score: 1.0 - float64(i)*0.1,
		}
	}
	return results
}

func TestPerturbScoresStayInRange(t *testing.T) {
	p := NewPerturber(0.05, 0.2, 1)

	for seed := int64(0); seed < 50; seed++ {
		results := p.Perturb(pool(10), 5)
		require.Len(t, results, 5)
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Score, 0.0)
			assert.LessOrEqual(t, r.Score, 1.0)
		}
	}
}

func TestPerturbClampsExtremes(t *testing.T) {
	// Huge noise forces scores past both bounds; clamping must hold.
	p := NewPerturber(100, 0.2, 7)
	results := p.Perturb(pool(20), 20)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestPerturbTruncatesToTopK(t *testing.T) {
	p := NewPerturber(0.05, 0.2, 1)
	assert.Len(t, p.Perturb(pool(10), 3), 3)
	assert.Len(t, p.Perturb(pool(2), 5), 2)
}

func TestPerturbNeverSwapsSmallPool(t *testing.T) {
	// With swap probability 1 the swap would fire on every call, so a
	// stable membership proves the pool-size guard.
	p := NewPerturber(0.001, 1.0, 42)

	for i := 0; i < 100; i++ {
		results := p.Perturb(pool(3), 3)
		require.Len(t, results, 3)
		ids := map[string]bool{}
		for _, r := range results {
			ids[r.ID] = true
		}
		assert.Equal(t, map[string]bool{"r0": true, "r1": true, "r2": true}, ids)
	}
}

func TestPerturbSwapsFromOverflowTail(t *testing.T) {
	// Always swap: exactly one top-k slot holds a tail candidate.
	p := NewPerturber(0.001, 1.0, 42)

	results := p.Perturb(pool(6), 3)
	require.Len(t, results, 3)

	tail := 0
	for _, r := range results {
		if r.ID == "r3" || r.ID == "r4" || r.ID == "r5" {
			tail++
		}
	}
	assert.Equal(t, 1, tail)
}

func TestPerturbRankingNotPreservedAcrossCalls(t *testing.T) {
	p := NewPerturber(0.05, 0.2, 99)

	first := make([]string, 0, 5)
	for _, r := range p.Perturb(pool(10), 5) {
		first = append(first, r.ID)
	}

	varied := false
	for i := 0; i < 50 && !varied; i++ {
		again := p.Perturb(pool(10), 5)
		for j, r := range again {
			if r.ID != first[j] {
				varied = true
				break
			}
		}
	}
	assert.True(t, varied, "repeated calls should not return identical rankings")
}

func TestPerturbEmptyAndInvalidInput(t *testing.T) {
	p := NewPerturber(0.05, 0.2, 1)
	assert.Nil(t, p.Perturb(nil, 5))
	assert.Nil(t, p.Perturb(pool(5), 0))
}

func TestLaplaceZeroMean(t *testing.T) {
	p := NewPerturber(0.05, 0.2, 123)

	var sum float64
	const n = 100000
	for i := 0; i < n; i++ {
		sum += p.laplace()
	}
	assert.InDelta(t, 0, sum/n, 0.005)
}
