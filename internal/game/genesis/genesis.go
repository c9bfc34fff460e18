// Package genesis deals the initial endowments of a game from a seed.
package genesis

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"tacarena.ai/internal/game/ledger"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// Policy describes how endowments and utilities are drawn.
type Policy struct {
	MoneyEndowment    int64
	BaseGoodEndowment int64
	LowerBoundFactor  float64
	UpperBoundFactor  float64
	// UtilityTotal is the sum of every agent's utility parameters.
	UtilityTotal float64
	TxFee        int64
}

// GoodIDs returns good_1 .. good_n.
func GoodIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("good_%d", i+1)
	}
	return out
}

// QuantityBounds returns the inclusive range each holding is drawn from.
func (p Policy) QuantityBounds() (lo, hi int64) {
	lo = int64(math.Round(p.LowerBoundFactor * float64(p.BaseGoodEndowment)))
	hi = int64(math.Round(p.UpperBoundFactor * float64(p.BaseGoodEndowment)))
	return lo, hi
}

func (p Policy) validate(roster []string, nbGoods int) error {
	var problems []string
	if nbGoods <= 0 {
		problems = append(problems, fmt.Sprintf("nb_goods must be positive, got %d", nbGoods))
	}
	if len(roster) == 0 {
		problems = append(problems, "empty roster")
	}
	if p.LowerBoundFactor < 0 || p.LowerBoundFactor > p.UpperBoundFactor {
		problems = append(problems, fmt.Sprintf("bound factors inconsistent: lower=%v upper=%v", p.LowerBoundFactor, p.UpperBoundFactor))
	}
	if p.MoneyEndowment < 0 || p.BaseGoodEndowment < 0 {
		problems = append(problems, "endowments must be non-negative")
	}
	if p.UtilityTotal <= 0 {
		problems = append(problems, "utility total must be positive")
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfiguration, problems)
}

// Initialize deals a fresh ledger. The roster is sorted first, so the result
// depends only on the set of agents, nbGoods, the policy and the seed.
//
// Quantities are uniform in QuantityBounds. Utilities come from one base
// vector drawn uniformly in (0,1] and scaled to UtilityTotal; each agent
// receives its own shuffle of that vector, so every agent holds the same
// multiset of valuations.
func Initialize(roster []string, nbGoods int, p Policy, seed int64) (*ledger.Ledger, error) {
	if err := p.validate(roster, nbGoods); err != nil {
		return nil, err
	}
	agents := append([]string(nil), roster...)
	sort.Strings(agents)
	for i := 1; i < len(agents); i++ {
		if agents[i] == agents[i-1] {
			return nil, fmt.Errorf("%w: duplicate agent %s", ErrInvalidConfiguration, agents[i])
		}
	}

	rng := rand.New(rand.NewSource(seed))
	goods := GoodIDs(nbGoods)
	lo, hi := p.QuantityBounds()

	base := make([]float64, nbGoods)
	var sum float64
	for i := range base {
		base[i] = 1 - rng.Float64()
		sum += base[i]
	}
	for i := range base {
		base[i] = base[i] / sum * p.UtilityTotal
	}

	states := make(map[string]ledger.AgentState, len(agents))
	for _, id := range agents {
		st := ledger.AgentState{
			Balance:   p.MoneyEndowment,
			Holdings:  make(map[string]int64, nbGoods),
			Utilities: make(map[string]float64, nbGoods),
		}
		for _, g := range goods {
			st.Holdings[g] = lo + rng.Int63n(hi-lo+1)
		}
		perm := rng.Perm(nbGoods)
		for i, g := range goods {
			st.Utilities[g] = base[perm[i]]
		}
		states[id] = st
	}
	l, err := ledger.New(goods, p.TxFee, states)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return l, nil
}
