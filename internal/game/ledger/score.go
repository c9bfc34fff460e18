package ledger

import "math"

// DefaultZeroHoldingPenalty stands in for ln(0) when an agent holds none of a good.
const DefaultZeroHoldingPenalty = -1000.0

// HoldingValue is ln(q) for q > 0 and penalty otherwise.
func HoldingValue(q int64, penalty float64) float64 {
	if q <= 0 {
		return penalty
	}
	return math.Log(float64(q))
}

// Score is balance + sum over goods of utility * HoldingValue(holding).
func Score(s AgentState, penalty float64) float64 {
	score := float64(s.Balance)
	for _, g := range sortedKeys(s.Utilities) {
		score += s.Utilities[g] * HoldingValue(s.Holdings[g], penalty)
	}
	return score
}

// Scores computes every agent's score.
func (l *Ledger) Scores(penalty float64) map[string]float64 {
	out := make(map[string]float64, len(l.agents))
	for id, s := range l.agents {
		out[id] = Score(*s, penalty)
	}
	return out
}
