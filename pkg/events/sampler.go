package events

import (
	"math/rand/v2"
	"time"
)

// Sampler draws labels from a weighted universe. Each worker owns its own
// Sampler and random source; a Sampler is not safe for concurrent use.
type Sampler struct {
	universe []string
	rng      *rand.Rand
}

// NewSampler expands catalog into its weighted universe and shuffles it with
// rng. The shuffle does not change sampling probabilities.
func NewSampler(catalog *Catalog, rng *rand.Rand) *Sampler {
	universe := catalog.Universe()
	rng.Shuffle(len(universe), func(i, j int) {
		universe[i], universe[j] = universe[j], universe[i]
	})
	return &Sampler{
		universe: universe,
		rng:      rng,
	}
}

// Sample returns the label at a uniformly random index of the universe.
func (s *Sampler) Sample() string {
	return s.universe[s.rng.IntN(len(s.universe))]
}

// Len is the size of the weighted universe.
func (s *Sampler) Len() int {
	return len(s.universe)
}

// NewSource returns a random source for one worker. The seed mixes the clock
// with the worker index so workers started in the same instant do not produce
// correlated sequences.
func NewSource(workerID int) *rand.Rand {
	return NewSeededSource(uint64(time.Now().UnixNano()), uint64(workerID))
}

// NewSeededSource returns a deterministic source, used for reproducible runs.
func NewSeededSource(seed uint64, workerID uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, workerID*0x9E3779B97F4A7C15+1))
}
