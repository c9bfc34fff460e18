package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// agent -> controller
	TypeHello          = "HELLO"
	TypeRegister       = "REGISTER"
	TypeUnregister     = "UNREGISTER"
	TypeTransaction    = "TRANSACTION"
	TypeGetStateUpdate = "GET_STATE_UPDATE"

	// controller -> agent
	TypeWelcome                 = "WELCOME"
	TypeRegistered              = "REGISTERED"
	TypeAck                     = "ACK"
	TypeCancelled               = "CANCELLED"
	TypeGameData                = "GAME_DATA"
	TypeTransactionConfirmation = "TRANSACTION_CONFIRMATION"
	TypeStateUpdate             = "STATE_UPDATE"
	TypeTacError                = "TAC_ERROR"
	TypeGameOver                = "GAME_OVER"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
