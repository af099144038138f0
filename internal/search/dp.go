// Package search implements privacy-constrained retrieval: query
// redaction and hashing, embedding, tenant-scoped nearest-neighbor
// search, differential-privacy perturbation, and generation with the
// privacy guard on both sides.
package search

import (
	"math"
	"math/rand"
	"sync"
)

const (
	defaultNoiseScale = 0.05
	defaultSwapProb   = 0.2
)

// Perturber applies differential-privacy noise to ranked results so
// repeated identical queries cannot fingerprint exact scores or
// rankings.
type Perturber struct {
	noiseScale float64
	swapProb   float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPerturber creates a perturber with Laplace scale b and distractor
// swap probability p.
func NewPerturber(noiseScale, swapProb float64, seed int64) *Perturber {
	if noiseScale <= 0 {
		noiseScale = defaultNoiseScale
	}
	if swapProb <= 0 || swapProb > 1 {
		swapProb = defaultSwapProb
	}
	return &Perturber{
		noiseScale: noiseScale,
		swapProb:   swapProb,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Perturb adds zero-mean Laplace noise to every candidate's score,
// clamps to [0,1], optionally swaps one top-k slot with one overflow
// slot, and truncates to topK. The swap never fires when the pool is
// not strictly larger than topK. Results are modified in place and
// the returned slice aliases the input.
func (p *Perturber) Perturb(results []Result, topK int) []Result {
	if topK <= 0 || len(results) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range results {
		score := results[i].Score + p.laplace()
		results[i].Score = clamp01(score)
	}

	if len(results) > topK && p.rng.Float64() < p.swapProb {
		i := p.rng.Intn(topK)
		j := topK + p.rng.Intn(len(results)-topK)
		results[i], results[j] = results[j], results[i]
	}

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// laplace samples zero-mean Laplace noise with scale b via inverse
// transform sampling.
func (p *Perturber) laplace() float64 {
	u := p.rng.Float64() - 0.5
	sign := 1.0
	if u < 0 {
		sign = -1.0
	}
	return -p.noiseScale * sign * math.Log(1-2*math.Abs(u))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
