package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/protocol"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second

	defaultQueue = 256
	maxQueue     = 1024
)

// Games resolves the game named in HELLO.
type Games interface {
	Pick(gameID string) (*controller.Controller, error)
}

type Server struct {
	games   Games
	schemas *protocol.Schemas
	log     zerolog.Logger

	upgrader websocket.Upgrader
}

func NewServer(games Games, schemas *protocol.Schemas, logger zerolog.Logger) *Server {
	return &Server{
		games:   games,
		schemas: schemas,
		log:     logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // agents are not browsers
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c, agentID, out := s.handshake(conn)
		if c == nil {
			return
		}
		defer c.Detach(agentID, out)
		log := s.log.With().Str("game_id", c.ID()).Str("agent_id", agentID).Logger()
		log.Info().Str("remote", r.RemoteAddr).Msg("agent connected")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			env, tacErr := s.decode(agentID, msg)
			if tacErr != nil {
				enqueue(out, tacErr)
				continue
			}
			if err := c.Submit(ctx, env); err != nil {
				if errors.Is(err, controller.ErrStopped) {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "game closed"), time.Now().Add(time.Second))
				}
				break
			}
		}
		cancel()
		log.Info().Msg("agent disconnected")
	}
}

// decode turns one inbound frame into a controller request, or the
// TAC_ERROR to answer it with.
func (s *Server) decode(agentID string, msg []byte) (controller.Envelope, *protocol.TacErrorMsg) {
	env := controller.Envelope{AgentID: agentID}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return env, tacError("", protocol.ErrRequestNotValid, "malformed JSON")
	}
	if base.ProtocolVersion != protocol.Version {
		return env, tacError(base.ReqID, protocol.ErrBadVersion, "protocol_version must be "+protocol.Version)
	}
	if s.schemas != nil && s.schemas.Has(base.Type) {
		if err := s.schemas.Validate(base.Type, msg); err != nil {
			return env, tacError(base.ReqID, protocol.ErrRequestNotValid, err.Error())
		}
	}

	switch base.Type {
	case protocol.TypeRegister:
		var m protocol.RegisterMsg
		err = json.Unmarshal(msg, &m)
		env.Msg = m
	case protocol.TypeUnregister:
		var m protocol.UnregisterMsg
		err = json.Unmarshal(msg, &m)
		env.Msg = m
	case protocol.TypeTransaction:
		var m protocol.TransactionMsg
		err = json.Unmarshal(msg, &m)
		env.Msg = m
	case protocol.TypeGetStateUpdate:
		var m protocol.GetStateUpdateMsg
		err = json.Unmarshal(msg, &m)
		env.Msg = m
	default:
		return env, tacError(base.ReqID, protocol.ErrRequestNotValid, "unknown message type "+base.Type)
	}
	if err != nil {
		return env, tacError(base.ReqID, protocol.ErrRequestNotValid, err.Error())
	}
	return env, nil
}

func tacError(reqID, code, message string) *protocol.TacErrorMsg {
	e := protocol.NewTacError(reqID, code, message)
	return &e
}

func (s *Server) handshake(conn *websocket.Conn) (*controller.Controller, string, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return nil, "", nil
	}
	if s.schemas != nil {
		if err := s.schemas.Validate(protocol.TypeHello, msg); err != nil {
			refuse(conn, protocol.ErrRequestNotValid, err.Error())
			return nil, "", nil
		}
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.AgentID == "" {
		refuse(conn, protocol.ErrRequestNotValid, "agent_id is required")
		return nil, "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		refuse(conn, protocol.ErrBadVersion, "protocol_version must be "+protocol.Version)
		return nil, "", nil
	}

	c, err := s.games.Pick(hello.GameID)
	if err != nil {
		refuse(conn, protocol.ErrUnknownGame, err.Error())
		return nil, "", nil
	}

	q := hello.MaxQueue
	if q <= 0 {
		q = defaultQueue
	}
	if q > maxQueue {
		q = maxQueue
	}
	out := make(chan []byte, q)

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	token := ""
	if hello.Auth != nil {
		token = strings.TrimSpace(hello.Auth.Token)
	}
	sess, err := c.Attach(ctx, hello.AgentID, token, out)
	if err != nil {
		refuse(conn, controller.ErrorCode(err), err.Error())
		return nil, "", nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		GameID:          c.ID(),
		AgentID:         hello.AgentID,
		Phase:           string(sess.Phase),
		ResumeToken:     sess.ResumeToken,
	}
	if err := writeJSON(conn, welcome); err != nil {
		c.Detach(hello.AgentID, out)
		return nil, "", nil
	}
	return c, hello.AgentID, out
}

func refuse(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewTacError("", code, message))
	closePolicy(conn, code)
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

// enqueue never blocks the reader; a full queue drops the reply.
func enqueue(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
