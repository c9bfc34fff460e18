// Command agent is a minimal trading client. It connects to a TAC server,
// registers, logs the game data it receives, and optionally trades one unit
// of a good per interval with a fixed counterparty.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"tacarena.ai/internal/protocol"
)

func main() {
	_ = godotenv.Load()

	var (
		wsURL        = flag.String("url", envString("TAC_WS_URL", "ws://localhost:8080/v1/ws"), "server ws url")
		gameID       = flag.String("game", "", "game id (default: newest game open for registration)")
		agentID      = flag.String("id", "", "agent id (required)")
		name         = flag.String("name", "", "agent name (default: id)")
		mode         = flag.String("mode", "idle", "idle, buyer or seller")
		counterparty = flag.String("counterparty", "", "agent id to trade with (buyer/seller modes)")
		price        = flag.Int64("price", 10, "price per trade")
		interval     = flag.Duration("interval", 2*time.Second, "trade and state poll interval")
		maxTrades    = flag.Int("max-trades", 10, "stop proposing after this many trades")
		token        = flag.String("token", envString("TAC_RESUME_TOKEN", ""), "resume token from an earlier WELCOME (reconnects)")
		pretty       = flag.Bool("log-pretty", true, "human-readable console logs")
	)
	flag.Parse()

	var logger zerolog.Logger
	if *pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	logger = logger.With().Timestamp().Str("agent_id", *agentID).Logger()

	if strings.TrimSpace(*agentID) == "" {
		logger.Fatal().Msg("-id is required")
	}
	r, err := parseRole(*mode)
	if err != nil {
		logger.Fatal().Err(err).Msg("bad -mode")
	}
	if r != roleIdle && *counterparty == "" {
		logger.Fatal().Msg("-counterparty is required in buyer/seller mode")
	}
	if *name == "" {
		*name = *agentID
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &agent{
		log: logger,
		cfg: agentConfig{
			GameID:       *gameID,
			AgentID:      *agentID,
			Name:         *name,
			Role:         r,
			Counterparty: *counterparty,
			Price:        *price,
			Interval:     *interval,
			MaxTrades:    *maxTrades,
			Token:        strings.TrimSpace(*token),
		},
	}
	if err := a.run(ctx, *wsURL); err != nil {
		logger.Fatal().Err(err).Msg("agent stopped")
	}
}

type agentConfig struct {
	GameID       string
	AgentID      string
	Name         string
	Role         role
	Counterparty string
	Price        int64
	Interval     time.Duration
	MaxTrades    int
	Token        string
}

type agent struct {
	log zerolog.Logger
	cfg agentConfig

	wmu  sync.Mutex
	conn *websocket.Conn
}

func (a *agent) send(v any) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return a.conn.WriteJSON(v)
}

func (a *agent) run(ctx context.Context, wsURL string) error {
	if _, err := url.Parse(wsURL); err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	a.conn = conn

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		GameID:          a.cfg.GameID,
		AgentID:         a.cfg.AgentID,
		AgentName:       a.cfg.Name,
	}
	if a.cfg.Token != "" {
		hello.Auth = &protocol.HelloAuth{Token: a.cfg.Token}
	}
	if err := a.send(hello); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				close(frames)
				return
			}
			frames <- msg
		}
	}()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	var (
		game     *protocol.GameDataMsg
		proposed int
	)
	for {
		select {
		case <-ctx.Done():
			_ = a.send(protocol.UnregisterMsg{Type: protocol.TypeUnregister, ProtocolVersion: protocol.Version, ReqID: "bye"})
			return nil

		case <-ticker.C:
			if game == nil {
				continue
			}
			_ = a.send(protocol.GetStateUpdateMsg{Type: protocol.TypeGetStateUpdate, ProtocolVersion: protocol.Version, ReqID: fmt.Sprintf("state_%d", time.Now().UnixMilli())})
			if a.cfg.Role == roleIdle || proposed >= a.cfg.MaxTrades || len(game.GoodIDs) == 0 {
				continue
			}
			tx := proposal(a.cfg, game.GoodIDs[0], proposed)
			if err := a.send(tx); err != nil {
				return fmt.Errorf("send TRANSACTION: %w", err)
			}
			proposed++
			a.log.Debug().Str("transaction_id", tx.TransactionID).Msg("proposed")

		case msg, ok := <-frames:
			if !ok {
				err := <-readErr
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return nil
				}
				return err
			}
			done, gd, err := a.handle(msg)
			if err != nil {
				a.log.Warn().Err(err).Msg("bad frame")
				continue
			}
			if gd != nil {
				game = gd
			}
			if done {
				return nil
			}
		}
	}
}

// handle processes one server frame. It reports done once the game is over.
func (a *agent) handle(msg []byte) (bool, *protocol.GameDataMsg, error) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return false, nil, err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var m protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, nil, err
		}
		a.log.Info().Str("game_id", m.GameID).Str("phase", m.Phase).Str("resume_token", m.ResumeToken).Msg("WELCOME")
		err := a.send(protocol.RegisterMsg{Type: protocol.TypeRegister, ProtocolVersion: protocol.Version, ReqID: "register", AgentName: a.cfg.Name})
		return false, nil, err

	case protocol.TypeRegistered:
		var m protocol.RegisteredMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, nil, err
		}
		a.log.Info().Str("game_id", m.GameID).Str("name", m.AgentName).Msg("registered")

	case protocol.TypeGameData:
		var m protocol.GameDataMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, nil, err
		}
		a.log.Info().
			Int64("money", m.Money).
			Ints64("endowment", m.Endowment).
			Floats64("utility_params", m.UtilityParams).
			Strs("goods", m.GoodIDs).
			Int64("tx_fee", m.TxFee).
			Msg("GAME_DATA")
		return false, &m, nil

	case protocol.TypeTransactionConfirmation:
		var m protocol.TransactionConfirmationMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, nil, err
		}
		a.log.Info().Str("transaction_id", m.TransactionID).Int64("amount", m.Amount).Uint64("seq", m.Seq).Msg("confirmed")

	case protocol.TypeStateUpdate:
		var m protocol.StateUpdateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, nil, err
		}
		a.log.Debug().Int64("balance", m.Balance).Interface("holdings", m.Holdings).Msg("state")

	case protocol.TypeTacError:
		var m protocol.TacErrorMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, nil, err
		}
		a.log.Warn().Str("code", m.ErrorCode).Str("req_id", m.ReqID).Msg(m.Message)

	case protocol.TypeCancelled:
		var m protocol.CancelledMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, nil, err
		}
		a.log.Info().Str("reason", m.Reason).Msg("game cancelled")
		return true, nil, nil

	case protocol.TypeGameOver:
		var m protocol.GameOverMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return false, nil, err
		}
		a.log.Info().Str("reason", m.Reason).Int64("balance", m.Balance).Float64("score", m.Score).Msg("game over")
		return true, nil, nil
	}
	return false, nil, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
