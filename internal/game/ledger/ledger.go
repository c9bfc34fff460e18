package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownAgent      = errors.New("unknown agent")
	ErrUnknownGood       = errors.New("unknown good")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientGoods = errors.New("insufficient goods")
	ErrInvalidTransfer   = errors.New("invalid transfer")
	ErrInvariant         = errors.New("ledger invariant violated")
)

// Ledger is the authoritative record of balances and holdings for one game.
// It is not safe for concurrent use; the owning controller serializes access.
type Ledger struct {
	goods   []string
	goodSet map[string]struct{}
	agents  map[string]*AgentState
	txFee   int64

	seq          uint64
	initialMoney int64
	feesBurned   int64
	settled      []Transaction
	lastPrice    map[string]float64
}

// New builds a ledger from initial states. Every state must carry a holding
// and a utility entry for every good.
func New(goods []string, txFee int64, states map[string]AgentState) (*Ledger, error) {
	if len(goods) == 0 {
		return nil, errors.New("ledger needs at least one good")
	}
	if txFee < 0 {
		return nil, fmt.Errorf("negative tx fee %d", txFee)
	}
	l := &Ledger{
		goods:     append([]string(nil), goods...),
		goodSet:   make(map[string]struct{}, len(goods)),
		agents:    make(map[string]*AgentState, len(states)),
		txFee:     txFee,
		lastPrice: map[string]float64{},
	}
	for _, g := range goods {
		if _, dup := l.goodSet[g]; dup {
			return nil, fmt.Errorf("duplicate good %q", g)
		}
		l.goodSet[g] = struct{}{}
	}
	for id, st := range states {
		s := st.Clone()
		for _, g := range goods {
			if _, ok := s.Holdings[g]; !ok {
				s.Holdings[g] = 0
			}
			if u, ok := s.Utilities[g]; !ok || u <= 0 {
				return nil, fmt.Errorf("agent %s: utility for %s must be positive", id, g)
			}
		}
		l.agents[id] = &s
		l.initialMoney += s.Balance
	}
	if err := l.CheckInvariants(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Goods() []string     { return append([]string(nil), l.goods...) }
func (l *Ledger) TxFee() int64        { return l.txFee }
func (l *Ledger) NbAgents() int       { return len(l.agents) }
func (l *Ledger) FeesBurned() int64   { return l.feesBurned }
func (l *Ledger) InitialMoney() int64 { return l.initialMoney }
func (l *Ledger) Seq() uint64         { return l.seq }

// Agents returns agent ids in sorted order.
func (l *Ledger) Agents() []string { return sortedKeys(l.agents) }

func (l *Ledger) Has(agentID string) bool {
	_, ok := l.agents[agentID]
	return ok
}

func (l *Ledger) HasGood(good string) bool {
	_, ok := l.goodSet[good]
	return ok
}

// State returns a copy of the agent's state.
func (l *Ledger) State(agentID string) (AgentState, bool) {
	s, ok := l.agents[agentID]
	if !ok {
		return AgentState{}, false
	}
	return s.Clone(), true
}

// States returns copies of all agent states.
func (l *Ledger) States() map[string]AgentState {
	out := make(map[string]AgentState, len(l.agents))
	for id, s := range l.agents {
		out[id] = s.Clone()
	}
	return out
}

func (l *Ledger) TotalMoney() int64 {
	var sum int64
	for _, s := range l.agents {
		sum += s.Balance
	}
	return sum
}

// Settled returns the settled transactions in commit order.
func (l *Ledger) Settled() []Transaction {
	out := make([]Transaction, len(l.settled))
	copy(out, l.settled)
	return out
}

// LastPrices maps each traded good to the unit price of the last trade that included it.
func (l *Ledger) LastPrices() map[string]float64 {
	out := make(map[string]float64, len(l.lastPrice))
	for g, p := range l.lastPrice {
		out[g] = p
	}
	return out
}

// Apply validates t and commits it. Buyer pays amount plus fee, seller
// receives amount, the fee leaves circulation.
func (l *Ledger) Apply(t Transfer, now time.Time) (Transaction, error) {
	if err := Validate(l, t); err != nil {
		return Transaction{}, err
	}
	buyer := l.agents[t.Buyer]
	seller := l.agents[t.Seller]

	buyer.Balance -= t.Amount + l.txFee
	seller.Balance += t.Amount
	var units int64
	for g, q := range t.Quantities {
		if q == 0 {
			continue
		}
		seller.Holdings[g] -= q
		buyer.Holdings[g] += q
		units += q
	}
	l.feesBurned += l.txFee
	l.seq++

	tx := Transaction{
		Seq:        l.seq,
		ID:         t.ID,
		Buyer:      t.Buyer,
		Seller:     t.Seller,
		Amount:     t.Amount,
		Fee:        l.txFee,
		Quantities: NonZero(t.Quantities),
		UnixMs:     now.UnixMilli(),
	}
	l.settled = append(l.settled, tx)
	if units > 0 {
		price := float64(t.Amount) / float64(units)
		for g := range tx.Quantities {
			l.lastPrice[g] = price
		}
	}
	return tx, nil
}

// CheckInvariants verifies non-negativity and money conservation.
func (l *Ledger) CheckInvariants() error {
	for _, id := range l.Agents() {
		s := l.agents[id]
		if s.Balance < 0 {
			return fmt.Errorf("%w: agent %s balance %d", ErrInvariant, id, s.Balance)
		}
		for _, g := range l.goods {
			if s.Holdings[g] < 0 {
				return fmt.Errorf("%w: agent %s holds %d of %s", ErrInvariant, id, s.Holdings[g], g)
			}
		}
	}
	if got := l.TotalMoney() + l.feesBurned; got != l.initialMoney {
		return fmt.Errorf("%w: money %d + fees %d != initial %d", ErrInvariant, l.TotalMoney(), l.feesBurned, l.initialMoney)
	}
	return nil
}
