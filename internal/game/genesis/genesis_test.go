package genesis

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"testing"
)

func testPolicy() Policy {
	return Policy{
		MoneyEndowment:    200,
		BaseGoodEndowment: 4,
		LowerBoundFactor:  0.5,
		UpperBoundFactor:  1.5,
		UtilityTotal:      100,
		TxFee:             1,
	}
}

func TestInitialize_Deterministic(t *testing.T) {
	roster := []string{"c", "a", "b"}
	l1, err := Initialize(roster, 4, testPolicy(), 42)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	l2, err := Initialize([]string{"b", "c", "a"}, 4, testPolicy(), 42)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !reflect.DeepEqual(l1.States(), l2.States()) {
		t.Fatalf("same seed produced different states")
	}
	l3, _ := Initialize(roster, 4, testPolicy(), 43)
	if reflect.DeepEqual(l1.States(), l3.States()) {
		t.Fatalf("different seeds produced identical states")
	}
}

func TestInitialize_BoundsAndFairness(t *testing.T) {
	p := testPolicy()
	l, err := Initialize([]string{"a", "b", "c", "d"}, 5, p, 7)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lo, hi := p.QuantityBounds()
	if lo != 2 || hi != 6 {
		t.Fatalf("bounds=[%d,%d] want [2,6]", lo, hi)
	}
	var ref []float64
	for id, st := range l.States() {
		if st.Balance != 200 {
			t.Fatalf("%s balance=%d", id, st.Balance)
		}
		var sum float64
		var us []float64
		for _, g := range GoodIDs(5) {
			q := st.Holdings[g]
			if q < lo || q > hi {
				t.Fatalf("%s holds %d of %s outside [%d,%d]", id, q, g, lo, hi)
			}
			u := st.Utilities[g]
			if u <= 0 {
				t.Fatalf("%s utility for %s not positive: %v", id, g, u)
			}
			sum += u
			us = append(us, u)
		}
		if math.Abs(sum-100) > 1e-9 {
			t.Fatalf("%s utilities sum=%v want 100", id, sum)
		}
		sort.Float64s(us)
		if ref == nil {
			ref = us
		} else if !reflect.DeepEqual(ref, us) {
			t.Fatalf("%s utility multiset differs: %v vs %v", id, us, ref)
		}
	}
	if l.TxFee() != 1 || len(l.Goods()) != 5 {
		t.Fatalf("unexpected ledger params fee=%d goods=%v", l.TxFee(), l.Goods())
	}
}

func TestInitialize_InvalidConfiguration(t *testing.T) {
	bad := testPolicy()
	bad.LowerBoundFactor = 2
	cases := []struct {
		name    string
		roster  []string
		nbGoods int
		p       Policy
	}{
		{"no goods", []string{"a"}, 0, testPolicy()},
		{"empty roster", nil, 3, testPolicy()},
		{"inverted bounds", []string{"a"}, 3, bad},
		{"duplicate agent", []string{"a", "a"}, 3, testPolicy()},
	}
	for _, tc := range cases {
		_, err := Initialize(tc.roster, tc.nbGoods, tc.p, 1)
		if !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("%s: err=%v want ErrInvalidConfiguration", tc.name, err)
		}
	}
}
