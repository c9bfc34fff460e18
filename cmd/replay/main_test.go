package main

import (
	"testing"

	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/game/ledger"
	"tacarena.ai/internal/persistence/report"
)

func TestCheckEvents(t *testing.T) {
	r := report.Report{
		Header: report.Header{GameID: "g1"},
		Transactions: []ledger.Transaction{
			{ID: "b", Seq: 2},
			{ID: "a", Seq: 1},
		},
	}
	events := []controller.Event{
		{GameID: "g1", Seq: 1, Kind: "PHASE"},
		{GameID: "g1", Seq: 2, Kind: "SETTLED", TransactionID: "a"},
		{GameID: "g1", Seq: 3, Kind: "REJECTED", TransactionID: "x"},
		{GameID: "g1", Seq: 4, Kind: "SETTLED", TransactionID: "b"},
	}
	if err := checkEvents(r, events); err != nil {
		t.Fatalf("checkEvents: %v", err)
	}
	if got := summarize(events); got != "PHASE=1 REJECTED=1 SETTLED=2" {
		t.Fatalf("summarize=%q", got)
	}

	if err := checkEvents(r, events[:2]); err == nil {
		t.Fatalf("expected count mismatch")
	}
	swapped := []controller.Event{
		{GameID: "g1", Kind: "SETTLED", TransactionID: "b"},
		{GameID: "g1", Kind: "SETTLED", TransactionID: "a"},
	}
	if err := checkEvents(r, swapped); err == nil {
		t.Fatalf("expected order mismatch")
	}
	if err := checkEvents(r, []controller.Event{{GameID: "g2", Kind: "PHASE"}}); err == nil {
		t.Fatalf("expected foreign game error")
	}
}
