package fsrs

import "math"

// minStability is the floor applied after a lapse or a short-term update.
const minStability = 0.1

// model evaluates the FSRS formulas for one parameter set.
type model struct {
	w      [NumWeights]float64
	decay  float64 // C
	factor float64 // F
}

func newModel(p Params) model {
	return model{w: p.Weights, decay: p.Decay, factor: p.factor()}
}

// retrievability is the forgetting curve R = (1 + F*t/S)^C.
func (m model) retrievability(elapsedDays int, stability float64) float64 {
	if elapsedDays <= 0 {
		return 1
	}
	return math.Pow(1+m.factor*float64(elapsedDays)/stability, m.decay)
}

// initStability is S0(G) = w[G-1].
func (m model) initStability(r Rating) float64 {
	return m.w[r-1]
}

// initDifficulty is D0(G) = w4 - (G-3)*w5, clamped to [1, 10].
func (m model) initDifficulty(r Rating) float64 {
	return clampDifficulty(m.w[4] - float64(r-3)*m.w[5])
}

// nextDifficulty moves D by -w6*(G-3), damped linearly as D approaches 10,
// then reverts toward D0(Easy) by w7.
// Again raises D toward the maximum by the fixed fraction 2*w6/9.
func (m model) nextDifficulty(d float64, r Rating) float64 {
	delta := -m.w[6] * float64(r-3)
	damped := d + delta*(maxDifficulty-d)/9
	reverted := m.w[7]*m.initDifficulty(Easy) + (1-m.w[7])*damped
	return clampDifficulty(reverted)
}

// recallStability is the stability after a successful review:
//
//	S' = S * (1 + e^w8 * (11-D) * S^-w9 * (e^((1-R)*w10) - 1) * bonus)
func (m model) recallStability(d, s, r float64, rating Rating) float64 {
	bonus := 1.0
	switch rating {
	case Hard:
		bonus = m.w[15]
	case Easy:
		bonus = m.w[16]
	}
	next := s * (1 + math.Exp(m.w[8])*
		(11-d)*
		math.Pow(s, -m.w[9])*
		(math.Exp((1-r)*m.w[10])-1)*
		bonus)
	if math.IsInf(next, 1) {
		return math.MaxFloat64
	}
	return next
}

// lapseStability is the stability after forgetting:
//
//	S' = w11 * D^-w12 * ((S+1)^w13 - 1) * e^((1-R)*w14)
//
// Forgetting never increases stability.
func (m model) lapseStability(d, s, r float64) float64 {
	next := m.w[11] *
		math.Pow(d, -m.w[12]) *
		(math.Pow(s+1, m.w[13]) - 1) *
		math.Exp((1-r)*m.w[14])
	next = math.Max(next, minStability)
	return math.Min(next, s)
}

// shortTermStability updates stability for a same-day step review:
//
//	S' = S * e^(w17 * (G - 3 + w18))
func (m model) shortTermStability(s float64, r Rating) float64 {
	inc := math.Exp(m.w[17] * (float64(r) - 3 + m.w[18]))
	if r >= Good {
		inc = math.Max(inc, 1)
	}
	return math.Max(s*inc, minStability)
}

// interval solves the curve for the day retrievability reaches the target,
// rounds it and clamps it to [1, maxInterval]. The clamp happens in floating
// point so that very large stabilities cannot overflow the conversion.
func (m model) interval(stability, desiredRetention float64, maxInterval int) int {
	ivl := stability / m.factor * (math.Pow(desiredRetention, 1/m.decay) - 1)
	ivl = math.Round(ivl)
	if math.IsNaN(ivl) || ivl < 1 {
		return 1
	}
	if ivl > float64(maxInterval) {
		return maxInterval
	}
	return int(ivl)
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, minDifficulty), maxDifficulty)
}
