// Package settlement pairs the two halves of a bilateral trade and commits
// them to the ledger.
package settlement

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"tacarena.ai/internal/game/ledger"
)

var (
	ErrDuplicateID    = errors.New("duplicate transaction id")
	ErrNotMatching    = errors.New("transaction requests do not match")
	ErrInvalidRequest = errors.New("invalid transaction request")
)

// Request is one side of a trade as submitted by an agent.
type Request struct {
	TransactionID string           `json:"transaction_id"`
	Sender        string           `json:"sender"`
	Counterparty  string           `json:"counterparty"`
	IsSenderBuyer bool             `json:"is_sender_buyer"`
	Amount        int64            `json:"amount"`
	Quantities    map[string]int64 `json:"quantities"`
}

func (r Request) Buyer() string {
	if r.IsSenderBuyer {
		return r.Sender
	}
	return r.Counterparty
}

func (r Request) Seller() string {
	if r.IsSenderBuyer {
		return r.Counterparty
	}
	return r.Sender
}

func (r Request) Transfer() ledger.Transfer {
	return ledger.Transfer{
		ID:         r.TransactionID,
		Buyer:      r.Buyer(),
		Seller:     r.Seller(),
		Amount:     r.Amount,
		Quantities: r.Quantities,
	}
}

// Complements reports whether r and o describe the same trade from opposite sides.
func (r Request) Complements(o Request) bool {
	return r.TransactionID == o.TransactionID &&
		r.Sender == o.Counterparty &&
		r.Counterparty == o.Sender &&
		r.IsSenderBuyer != o.IsSenderBuyer &&
		r.Amount == o.Amount &&
		ledger.EqualQuantities(r.Quantities, o.Quantities)
}

type Status int

const (
	StatusPending Status = iota + 1
	StatusSettled
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSettled:
		return "SETTLED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Outcome of a Submit. Counterpart is set when a pending request was consumed,
// so both submitters can be told the result.
type Outcome struct {
	Status      Status
	Err         error
	Tx          ledger.Transaction
	Counterpart *Request
}

type pendingEntry struct {
	req Request
	at  time.Time
}

// Engine is not safe for concurrent use; the controller loop owns it.
type Engine struct {
	ledger  *ledger.Ledger
	timeout time.Duration

	pending map[string]pendingEntry
	settled map[string]struct{}
}

// NewEngine returns an engine over l. A zero timeout keeps pending requests forever.
func NewEngine(l *ledger.Ledger, pendingTimeout time.Duration) *Engine {
	return &Engine{
		ledger:  l,
		timeout: pendingTimeout,
		pending: map[string]pendingEntry{},
		settled: map[string]struct{}{},
	}
}

func (e *Engine) PendingCount() int { return len(e.pending) }
func (e *Engine) SettledCount() int { return len(e.settled) }

func (e *Engine) checkRequest(r Request) error {
	if r.TransactionID == "" {
		return fmt.Errorf("%w: empty transaction id", ErrInvalidRequest)
	}
	if r.Sender == r.Counterparty {
		return fmt.Errorf("%w: counterparty is the sender", ErrInvalidRequest)
	}
	if !e.ledger.Has(r.Sender) {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAgent, r.Sender)
	}
	if !e.ledger.Has(r.Counterparty) {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAgent, r.Counterparty)
	}
	if r.Amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidRequest)
	}
	for g, q := range r.Quantities {
		if !e.ledger.HasGood(g) {
			return fmt.Errorf("%w: %s", ledger.ErrUnknownGood, g)
		}
		if q < 0 {
			return fmt.Errorf("%w: negative quantity for %s", ErrInvalidRequest, g)
		}
	}
	return nil
}

// Submit advances the state of r.TransactionID.
func (e *Engine) Submit(r Request, now time.Time) Outcome {
	if err := e.checkRequest(r); err != nil {
		return Outcome{Status: StatusRejected, Err: err}
	}
	if _, done := e.settled[r.TransactionID]; done {
		return Outcome{Status: StatusRejected, Err: fmt.Errorf("%w: %s already settled", ErrDuplicateID, r.TransactionID)}
	}
	r.Quantities = ledger.NonZero(r.Quantities)

	p, ok := e.pending[r.TransactionID]
	if !ok || p.req.Sender == r.Sender {
		e.pending[r.TransactionID] = pendingEntry{req: r, at: now}
		return Outcome{Status: StatusPending}
	}
	if r.Sender != p.req.Counterparty {
		return Outcome{Status: StatusRejected, Err: fmt.Errorf("%w: %s is pending between %s and %s", ErrDuplicateID, r.TransactionID, p.req.Sender, p.req.Counterparty)}
	}

	delete(e.pending, r.TransactionID)
	first := p.req
	if !r.Complements(first) {
		return Outcome{Status: StatusRejected, Err: fmt.Errorf("%w: %s", ErrNotMatching, r.TransactionID), Counterpart: &first}
	}
	tx, err := e.ledger.Apply(r.Transfer(), now)
	if err != nil {
		return Outcome{Status: StatusRejected, Err: err, Counterpart: &first}
	}
	e.settled[r.TransactionID] = struct{}{}
	return Outcome{Status: StatusSettled, Tx: tx, Counterpart: &first}
}

// Expire drops pending requests older than the pending timeout and returns them.
func (e *Engine) Expire(now time.Time) []Request {
	if e.timeout <= 0 {
		return nil
	}
	var out []Request
	for id, p := range e.pending {
		if now.Sub(p.at) > e.timeout {
			out = append(out, p.req)
			delete(e.pending, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}
