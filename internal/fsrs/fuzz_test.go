package fsrs

import "testing"

func TestFuzzInterval(t *testing.T) {
	t.Run("short intervals are left alone", func(t *testing.T) {
		for ivl := 1; ivl < minFuzzInterval; ivl++ {
			if got := fuzzInterval(ivl, 0.05, 36500, "c", 3); got != ivl {
				t.Errorf("Expected %d to stay unfuzzed, got %d", ivl, got)
			}
		}
	})

	t.Run("zero factor disables fuzz", func(t *testing.T) {
		if got := fuzzInterval(100, 0, 36500, "c", 3); got != 100 {
			t.Errorf("Expected 100, got %d", got)
		}
	})

	t.Run("stays within the fuzz range and the clamp", func(t *testing.T) {
		testCases := []struct {
			ivl, maxIvl int
			factor      float64
			lo, hi      int
		}{
			{ivl: 3, maxIvl: 36500, factor: 0.05, lo: 2, hi: 4},
			{ivl: 100, maxIvl: 36500, factor: 0.05, lo: 95, hi: 105},
			{ivl: 29, maxIvl: 30, factor: 0.1, lo: 26, hi: 30},
			{ivl: 4, maxIvl: 5, factor: 0.5, lo: 2, hi: 5},
		}
		for _, tc := range testCases {
			for reps := 0; reps < 200; reps++ {
				got := fuzzInterval(tc.ivl, tc.factor, tc.maxIvl, "card", reps)
				if got < tc.lo || got > tc.hi {
					t.Fatalf("fuzzInterval(%d) = %d, want within [%d, %d]", tc.ivl, got, tc.lo, tc.hi)
				}
			}
		}
	})

	t.Run("intervals at the cap stay there", func(t *testing.T) {
		for reps := 0; reps < 50; reps++ {
			if got := fuzzInterval(30, 0.1, 30, "card", reps); got != 30 {
				t.Fatalf("Expected the capped interval 30 to stay, got %d", got)
			}
		}
	})

	t.Run("is reproducible per card and review", func(t *testing.T) {
		a := fuzzInterval(200, 0.05, 36500, "alpha", 7)
		b := fuzzInterval(200, 0.05, 36500, "alpha", 7)
		if a != b {
			t.Errorf("Expected identical results, got %d and %d", a, b)
		}
	})

	t.Run("spreads cards with the same interval", func(t *testing.T) {
		seen := map[int]bool{}
		for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
			seen[fuzzInterval(200, 0.05, 36500, id, 4)] = true
		}
		if len(seen) < 2 {
			t.Errorf("Expected fuzz to spread ten cards, got %v", seen)
		}
	})
}
