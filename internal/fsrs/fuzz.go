package fsrs

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// minFuzzInterval is the shortest interval, in days, that gets fuzzed.
const minFuzzInterval = 3

// fuzzSeed derives a reproducible seed from the card identifier and its
// review count, so a card is spread differently at every review but the same
// input always produces the same output.
func fuzzSeed(cardID string, reps int) (uint64, uint64) {
	h := fnv.New64a()
	h.Write([]byte(cardID))
	return h.Sum64(), uint64(reps)
}

// fuzzInterval moves ivl by up to ±max(1, round(ivl*factor)) days and keeps
// the result inside [1, maxInterval]. An interval already at the cap is left there.
func fuzzInterval(ivl int, factor float64, maxInterval int, cardID string, reps int) int {
	if ivl >= maxInterval {
		return maxInterval
	}
	if ivl < minFuzzInterval || factor <= 0 {
		return ivl
	}
	delta := max(1, int(math.Round(float64(ivl)*factor)))
	lo := max(1, ivl-delta)
	hi := min(maxInterval, ivl+delta)
	if hi <= lo {
		return min(max(ivl, 1), maxInterval)
	}
	rng := rand.New(rand.NewPCG(fuzzSeed(cardID, reps)))
	return lo + rng.IntN(hi-lo+1)
}
