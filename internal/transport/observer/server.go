package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/observerproto"
)

// Games resolves a game id to its controller.
type Games interface {
	Lookup(id string) (*controller.Controller, bool)
}

// Server streams read-only game metrics to loopback spectators.
type Server struct {
	games Games
	log   zerolog.Logger

	upgrader websocket.Upgrader
}

func NewServer(games Games, logger zerolog.Logger) *Server {
	return &Server{
		games: games,
		log:   logger.With().Str("component", "observer").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		c, ok := s.games.Lookup(r.URL.Query().Get("game_id"))
		if !ok {
			http.Error(rw, "unknown game", http.StatusNotFound)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		st, err := c.RequestStatus(ctx)
		if err != nil {
			// Loop already exited; the metrics snapshot is still valid.
			st = controller.Status{GameID: c.ID(), Phase: c.Phase()}
		}
		cfg := c.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Status:          st,
			NbGoods:         cfg.NbGoods,
			TxFee:           cfg.TxFee,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		c, ok := s.games.Lookup(sub.GameID)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown game"), time.Now().Add(time.Second))
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		intervals := make(chan time.Duration, 1)
		intervals <- normalizeInterval(sub.IntervalMs)

		// Reader loop: allow SUBSCRIBE updates; any read error ends the session.
		go func() {
			defer cancel()
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var upd observerproto.SubscribeMsg
				if err := json.Unmarshal(msg, &upd); err != nil || upd.Type != observerproto.TypeSubscribe {
					continue
				}
				select {
				case <-intervals:
				default:
				}
				intervals <- normalizeInterval(upd.IntervalMs)
			}
		}()

		if err := s.stream(ctx, conn, c, intervals); err != nil {
			s.log.Debug().Err(err).Str("game_id", c.ID()).Msg("observer stream ended")
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}
}

// stream is the only writer on conn.
func (s *Server) stream(ctx context.Context, conn *websocket.Conn, c *controller.Controller, intervals <-chan time.Duration) error {
	ticker := time.NewTicker(<-intervals)
	defer ticker.Stop()
	for {
		if err := writeJSON(conn, observerproto.MetricsMsg{
			Type:            observerproto.TypeMetrics,
			ProtocolVersion: observerproto.Version,
			GameID:          c.ID(),
			UnixMs:          time.Now().UnixMilli(),
			Metrics:         c.Metrics(),
		}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-intervals:
			ticker.Reset(d)
		case <-ticker.C:
		case <-c.Done():
			st, err := c.RequestStatus(ctx)
			if err != nil {
				st = controller.Status{GameID: c.ID(), Phase: c.Phase()}
			}
			return writeJSON(conn, observerproto.FinishedMsg{
				Type:            observerproto.TypeFinished,
				ProtocolVersion: observerproto.Version,
				Status:          st,
			})
		}
	}
}

func normalizeInterval(ms int) time.Duration {
	if ms <= 0 {
		ms = 1000
	}
	if ms < 100 {
		ms = 100
	}
	if ms > 60000 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
