package protocol

// HELLO (agent -> controller), first frame on a connection.
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	GameID          string     `json:"game_id,omitempty"`
	AgentID         string     `json:"agent_id"`
	AgentName       string     `json:"agent_name,omitempty"`
	MaxQueue        int        `json:"max_queue,omitempty"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

// HelloAuth carries the resume token from an earlier WELCOME.
type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (controller -> agent)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	GameID          string `json:"game_id"`
	AgentID         string `json:"agent_id"`
	Phase           string `json:"phase"`
	ResumeToken     string `json:"resume_token"`
}

type RegisterMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	AgentName       string `json:"agent_name,omitempty"`
}

type UnregisterMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
}

type TransactionMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id,omitempty"`
	TransactionID   string           `json:"transaction_id"`
	Counterparty    string           `json:"counterparty"`
	IsSenderBuyer   bool             `json:"is_sender_buyer"`
	Amount          int64            `json:"amount"`
	Quantities      map[string]int64 `json:"quantities"`
}

type GetStateUpdateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
}

type RegisteredMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	GameID          string `json:"game_id"`
	AgentID         string `json:"agent_id"`
	AgentName       string `json:"agent_name"`
}

// ACK acknowledges a request that has no richer reply yet
// (unregister, first half of a transaction).
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	AckFor          string `json:"ack_for"`
	TransactionID   string `json:"transaction_id,omitempty"`
	Status          string `json:"status,omitempty"`
}

type CancelledMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	GameID          string `json:"game_id"`
	Reason          string `json:"reason"`
}

// GAME_DATA is sent once to each agent when trading starts. Endowment and
// UtilityParams are ordered like GoodIDs.
type GameDataMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	GameID          string            `json:"game_id"`
	Money           int64             `json:"money"`
	Endowment       []int64           `json:"endowment"`
	UtilityParams   []float64         `json:"utility_params"`
	NbAgents        int               `json:"nb_agents"`
	NbGoods         int               `json:"nb_goods"`
	TxFee           int64             `json:"tx_fee"`
	GoodIDs         []string          `json:"good_ids"`
	AgentIDToName   map[string]string `json:"agent_id_to_name"`
	GoodIDToName    map[string]string `json:"good_id_to_name"`
	CompetitionEnds int64             `json:"competition_ends_ms"`
}

type TransactionConfirmationMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	TransactionID   string           `json:"transaction_id"`
	Buyer           string           `json:"buyer"`
	Seller          string           `json:"seller"`
	Amount          int64            `json:"amount"`
	Fee             int64            `json:"fee"`
	Quantities      map[string]int64 `json:"quantities"`
	Timestamp       int64            `json:"timestamp_ms"`
	Seq             uint64           `json:"seq"`
}

type StateUpdateMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	ReqID           string             `json:"req_id,omitempty"`
	Phase           string             `json:"phase"`
	Balance         int64              `json:"balance"`
	Holdings        map[string]int64   `json:"holdings"`
	UtilityParams   map[string]float64 `json:"utility_params"`
}

type TacErrorMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ReqID           string         `json:"req_id,omitempty"`
	ErrorCode       string         `json:"error_code"`
	Message         string         `json:"message"`
	Details         map[string]any `json:"details,omitempty"`
}

type GameOverMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	GameID          string           `json:"game_id"`
	Reason          string           `json:"reason"`
	Balance         int64            `json:"balance"`
	Holdings        map[string]int64 `json:"holdings"`
	Score           float64          `json:"score"`
}

func NewTacError(reqID, code, message string) TacErrorMsg {
	return TacErrorMsg{
		Type:            TypeTacError,
		ProtocolVersion: Version,
		ReqID:           reqID,
		ErrorCode:       code,
		Message:         message,
	}
}
