package ledger

import "sort"

// AgentState is one participant's money, goods and private valuation.
type AgentState struct {
	Balance   int64              `json:"balance"`
	Holdings  map[string]int64   `json:"holdings"`
	Utilities map[string]float64 `json:"utility_params"`
}

func (s AgentState) Clone() AgentState {
	out := AgentState{
		Balance:   s.Balance,
		Holdings:  make(map[string]int64, len(s.Holdings)),
		Utilities: make(map[string]float64, len(s.Utilities)),
	}
	for g, q := range s.Holdings {
		out.Holdings[g] = q
	}
	for g, u := range s.Utilities {
		out.Utilities[g] = u
	}
	return out
}

// Transfer is a buyer/seller resolved trade ready to be validated against a ledger.
type Transfer struct {
	ID         string
	Buyer      string
	Seller     string
	Amount     int64
	Quantities map[string]int64
}

// Transaction is a settled transfer as recorded in the ledger.
type Transaction struct {
	Seq        uint64           `json:"seq"`
	ID         string           `json:"transaction_id"`
	Buyer      string           `json:"buyer"`
	Seller     string           `json:"seller"`
	Amount     int64            `json:"amount"`
	Fee        int64            `json:"fee"`
	Quantities map[string]int64 `json:"quantities"`
	UnixMs     int64            `json:"timestamp_ms"`
}

// NonZero returns a copy of q without zero entries.
func NonZero(q map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(q))
	for g, n := range q {
		if n != 0 {
			out[g] = n
		}
	}
	return out
}

// EqualQuantities treats missing goods as zero.
func EqualQuantities(a, b map[string]int64) bool {
	for g, n := range a {
		if b[g] != n {
			return false
		}
	}
	for g, n := range b {
		if a[g] != n {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
