package protocol_test

import (
	"testing"

	"tacarena.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	s, err := protocol.LoadSchemas()
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	for _, typ := range []string{
		protocol.TypeHello,
		protocol.TypeRegister,
		protocol.TypeUnregister,
		protocol.TypeTransaction,
		protocol.TypeGetStateUpdate,
		protocol.TypeGameData,
		protocol.TypeTransactionConfirmation,
		protocol.TypeTacError,
	} {
		if !s.Has(typ) {
			t.Fatalf("missing schema for %s", typ)
		}
	}

	valid := map[string]string{
		protocol.TypeHello:          `{"type":"HELLO","protocol_version":"1.0","agent_id":"agent_1","agent_name":"alice"}`,
		protocol.TypeRegister:       `{"type":"REGISTER","protocol_version":"1.0","req_id":"r1"}`,
		protocol.TypeGetStateUpdate: `{"type":"GET_STATE_UPDATE","protocol_version":"1.0"}`,
		protocol.TypeTransaction: `{"type":"TRANSACTION","protocol_version":"1.0","transaction_id":"a_b_1",
			"counterparty":"b","is_sender_buyer":true,"amount":10,"quantities":{"good_1":1}}`,
	}
	for typ, raw := range valid {
		if err := s.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}

	invalid := map[string]string{
		"negative amount": `{"type":"TRANSACTION","protocol_version":"1.0","transaction_id":"x","counterparty":"b","is_sender_buyer":true,"amount":-1,"quantities":{}}`,
		"fractional qty":  `{"type":"TRANSACTION","protocol_version":"1.0","transaction_id":"x","counterparty":"b","is_sender_buyer":true,"amount":1,"quantities":{"good_1":0.5}}`,
		"missing id":      `{"type":"TRANSACTION","protocol_version":"1.0","counterparty":"b","is_sender_buyer":true,"amount":1,"quantities":{}}`,
		"max int amount":  `{"type":"TRANSACTION","protocol_version":"1.0","transaction_id":"x","counterparty":"b","is_sender_buyer":true,"amount":9223372036854775807,"quantities":{}}`,
		"max int qty":     `{"type":"TRANSACTION","protocol_version":"1.0","transaction_id":"x","counterparty":"b","is_sender_buyer":true,"amount":1,"quantities":{"good_1":9223372036854775807}}`,
	}
	for name, raw := range invalid {
		if err := s.Validate(protocol.TypeTransaction, []byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := s.Validate(protocol.TypeHello, []byte(`{"type":"HELLO","protocol_version":"1.0"}`)); err == nil {
		t.Fatalf("hello without agent_id must fail")
	}

	gd := protocol.GameDataMsg{
		Type:            protocol.TypeGameData,
		ProtocolVersion: protocol.Version,
		GameID:          "g1",
		Money:           200,
		Endowment:       []int64{2, 3},
		UtilityParams:   []float64{40, 60},
		NbAgents:        2,
		NbGoods:         2,
		TxFee:           1,
		GoodIDs:         []string{"good_1", "good_2"},
		AgentIDToName:   map[string]string{"a": "alice", "b": "bob"},
		GoodIDToName:    map[string]string{"good_1": "Good 1", "good_2": "Good 2"},
	}
	if err := s.ValidateValue(protocol.TypeGameData, gd); err != nil {
		t.Fatalf("game data: %v", err)
	}
	if err := s.ValidateValue(protocol.TypeTacError, protocol.NewTacError("r1", protocol.ErrDuplicateID, "dup")); err != nil {
		t.Fatalf("tac error: %v", err)
	}
}
