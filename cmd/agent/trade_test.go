package main

import (
	"reflect"
	"testing"
)

func TestParseRole(t *testing.T) {
	for in, want := range map[string]role{"": roleIdle, "idle": roleIdle, " Buyer": roleBuyer, "SELLER": roleSeller} {
		got, err := parseRole(in)
		if err != nil || got != want {
			t.Fatalf("parseRole(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := parseRole("market_maker"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestProposal_HalvesMatch(t *testing.T) {
	b := proposal(agentConfig{AgentID: "alice", Counterparty: "bob", Role: roleBuyer, Price: 12}, "good_0", 3)
	s := proposal(agentConfig{AgentID: "bob", Counterparty: "alice", Role: roleSeller, Price: 12}, "good_0", 3)

	if b.TransactionID != "alice_bob_3" || s.TransactionID != b.TransactionID {
		t.Fatalf("ids buyer=%s seller=%s", b.TransactionID, s.TransactionID)
	}
	if !b.IsSenderBuyer || s.IsSenderBuyer {
		t.Fatalf("sides buyer=%v seller=%v", b.IsSenderBuyer, s.IsSenderBuyer)
	}
	if b.Counterparty != "bob" || s.Counterparty != "alice" {
		t.Fatalf("counterparties %s %s", b.Counterparty, s.Counterparty)
	}
	if b.Amount != s.Amount || !reflect.DeepEqual(b.Quantities, s.Quantities) {
		t.Fatalf("terms differ: %+v vs %+v", b, s)
	}
}
