package observerproto

import "tacarena.ai/internal/game/controller"

// Version is the spectator protocol version (separate from the agent WS protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeMetrics   = "GAME_METRICS"
	TypeFinished  = "GAME_FINISHED"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the interval.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	GameID          string `json:"game_id"`
	IntervalMs      int    `json:"interval_ms,omitempty"`
}

// HTTP response for GET /v1/observe/bootstrap?game_id=...
type BootstrapResponse struct {
	ProtocolVersion string            `json:"protocol_version"`
	Status          controller.Status `json:"status"`
	NbGoods         int               `json:"nb_goods"`
	TxFee           int64             `json:"tx_fee"`
}

// Server -> Client, every interval while the game is live.
type MetricsMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	GameID          string             `json:"game_id"`
	UnixMs          int64              `json:"ts_ms"`
	Metrics         controller.Metrics `json:"metrics"`
}

// Server -> Client, once, when the game reaches a final phase. The
// connection is closed afterwards.
type FinishedMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Status          controller.Status `json:"status"`
}
