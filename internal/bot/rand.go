package bot

import (
	"math/rand/v2"
	"sync"
)

// rng feeds every strategy's tie-breaking and random choices. Unseeded it
// falls through to the math/rand global source. Seeding makes a single
// arena game reproducible; parallel games still share the one stream, so
// their individual outcomes depend on scheduling.
var rng struct {
	mu  sync.Mutex
	src *rand.Rand
}

// SeedBotRng makes bot decisions deterministic from seed.
func SeedBotRng(seed uint64) {
	rng.mu.Lock()
	rng.src = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.mu.Unlock()
}

// ResetBotRng returns the bots to the unseeded global source.
func ResetBotRng() {
	rng.mu.Lock()
	rng.src = nil
	rng.mu.Unlock()
}

func botFloat64() float64 {
	rng.mu.Lock()
	defer rng.mu.Unlock()
	if rng.src == nil {
		return rand.Float64()
	}
	return rng.src.Float64()
}

// botIntN returns a value in [0, n). n must be positive.
func botIntN(n int) int {
	rng.mu.Lock()
	defer rng.mu.Unlock()
	if rng.src == nil {
		return rand.IntN(n)
	}
	return rng.src.IntN(n)
}
