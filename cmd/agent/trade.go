package main

import (
	"fmt"
	"strings"

	"tacarena.ai/internal/protocol"
)

type role int

const (
	roleIdle role = iota
	roleBuyer
	roleSeller
)

func parseRole(s string) (role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "idle":
		return roleIdle, nil
	case "buyer":
		return roleBuyer, nil
	case "seller":
		return roleSeller, nil
	default:
		return roleIdle, fmt.Errorf("unknown mode %q", s)
	}
}

// proposal builds the n-th trade of one unit of good. A buyer and a seller
// configured as each other's counterparty produce matching halves with the
// same transaction id.
func proposal(cfg agentConfig, good string, n int) protocol.TransactionMsg {
	buyer, seller := cfg.AgentID, cfg.Counterparty
	if cfg.Role == roleSeller {
		buyer, seller = cfg.Counterparty, cfg.AgentID
	}
	id := fmt.Sprintf("%s_%s_%d", buyer, seller, n)
	return protocol.TransactionMsg{
		Type:            protocol.TypeTransaction,
		ProtocolVersion: protocol.Version,
		ReqID:           "req_" + id,
		TransactionID:   id,
		Counterparty:    cfg.Counterparty,
		IsSenderBuyer:   cfg.Role == roleBuyer,
		Amount:          cfg.Price,
		Quantities:      map[string]int64{good: 1},
	}
}
