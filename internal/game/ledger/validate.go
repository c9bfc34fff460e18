package ledger

import "fmt"

// Validate checks t against the current ledger without mutating it.
func Validate(l *Ledger, t Transfer) error {
	if t.Buyer == t.Seller {
		return fmt.Errorf("%w: buyer and seller are both %s", ErrInvalidTransfer, t.Buyer)
	}
	buyer, ok := l.agents[t.Buyer]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, t.Buyer)
	}
	seller, ok := l.agents[t.Seller]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, t.Seller)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrInvalidTransfer, t.Amount)
	}
	for _, g := range sortedKeys(t.Quantities) {
		q := t.Quantities[g]
		if q < 0 {
			return fmt.Errorf("%w: negative quantity %d of %s", ErrInvalidTransfer, q, g)
		}
		if !l.HasGood(g) {
			return fmt.Errorf("%w: %s", ErrUnknownGood, g)
		}
	}
	// Compared against balance-fee so a huge amount cannot wrap the sum.
	if buyer.Balance < l.txFee || t.Amount > buyer.Balance-l.txFee {
		return fmt.Errorf("%w: %s has %d, needs %d plus fee %d", ErrInsufficientFunds, t.Buyer, buyer.Balance, t.Amount, l.txFee)
	}
	for _, g := range sortedKeys(t.Quantities) {
		if q := t.Quantities[g]; seller.Holdings[g] < q {
			return fmt.Errorf("%w: %s has %d of %s, needs %d", ErrInsufficientGoods, t.Seller, seller.Holdings[g], g, q)
		}
	}
	return nil
}
