package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tacarena.ai/internal/arena"
	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/protocol"
	"tacarena.ai/internal/transport/ws"
)

func newServer(t *testing.T) string {
	t.Helper()
	reg := arena.NewRegistry(arena.Config{}, arena.Options{Logger: zerolog.Nop()})
	g := tuning.Defaults()
	g.NbAgents = 2
	g.NbGoods = 2
	if _, err := reg.CreateWithID("g1", g); err != nil {
		t.Fatalf("CreateWithID: %v", err)
	}
	schemas, err := protocol.LoadSchemas()
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	srv := httptest.NewServer(ws.NewServer(reg, schemas, zerolog.Nop()).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, hello map[string]any) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	send(t, conn, hello)
	return conn
}

func hello(agentID string) map[string]any {
	return map[string]any{"type": protocol.TypeHello, "protocol_version": protocol.Version, "agent_id": agentID}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read %s: %v", typ, err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil || base.Type != typ {
		t.Fatalf("got %s want %s", b, typ)
	}
	if v != nil {
		if err := json.Unmarshal(b, v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	}
}

func readError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	var e protocol.TacErrorMsg
	read(t, conn, protocol.TypeTacError, &e)
	if e.ErrorCode != code {
		t.Fatalf("error_code=%s want %s (%s)", e.ErrorCode, code, e.Message)
	}
}

func msg(typ string, kv ...any) map[string]any {
	m := map[string]any{"type": typ, "protocol_version": protocol.Version}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func TestServer_EndToEndTrade(t *testing.T) {
	url := newServer(t)
	a := dial(t, url, hello("a"))
	var w protocol.WelcomeMsg
	read(t, a, protocol.TypeWelcome, &w)
	if w.GameID != "g1" || w.AgentID != "a" || w.Phase != "AWAITING_REGISTRATION" {
		t.Fatalf("welcome=%+v", w)
	}
	b := dial(t, url, hello("b"))
	read(t, b, protocol.TypeWelcome, nil)

	send(t, a, msg(protocol.TypeRegister, "agent_name", "alice"))
	read(t, a, protocol.TypeRegistered, nil)
	send(t, b, msg(protocol.TypeRegister, "agent_name", "bob"))
	read(t, b, protocol.TypeRegistered, nil)
	var gd protocol.GameDataMsg
	read(t, a, protocol.TypeGameData, &gd)
	if gd.AgentIDToName["b"] != "bob" || gd.Money != 200 {
		t.Fatalf("game data=%+v", gd)
	}
	read(t, b, protocol.TypeGameData, nil)

	q := map[string]int64{"good_1": 1}
	send(t, a, msg(protocol.TypeTransaction, "transaction_id", "a_b_1", "counterparty", "b", "is_sender_buyer", true, "amount", 10, "quantities", q))
	read(t, a, protocol.TypeAck, nil)
	send(t, b, msg(protocol.TypeTransaction, "transaction_id", "a_b_1", "counterparty", "a", "is_sender_buyer", false, "amount", 10, "quantities", q))
	var conf protocol.TransactionConfirmationMsg
	read(t, a, protocol.TypeTransactionConfirmation, &conf)
	read(t, b, protocol.TypeTransactionConfirmation, nil)
	if conf.Seq != 1 || conf.Fee != 1 {
		t.Fatalf("confirmation=%+v", conf)
	}

	send(t, a, msg(protocol.TypeGetStateUpdate, "req_id", "s1"))
	var st protocol.StateUpdateMsg
	read(t, a, protocol.TypeStateUpdate, &st)
	if st.ReqID != "s1" || st.Balance != 189 || st.Holdings["good_1"] != 3 {
		t.Fatalf("state=%+v", st)
	}
}

func TestServer_RejectsInvalidFrames(t *testing.T) {
	url := newServer(t)
	a := dial(t, url, hello("a"))
	read(t, a, protocol.TypeWelcome, nil)

	send(t, a, msg(protocol.TypeTransaction, "transaction_id", "x", "counterparty", "b", "is_sender_buyer", true, "amount", -5, "quantities", map[string]int64{}))
	readError(t, a, protocol.ErrRequestNotValid)
	send(t, a, msg("DANCE"))
	readError(t, a, protocol.ErrRequestNotValid)
	send(t, a, map[string]any{"type": protocol.TypeRegister, "protocol_version": "0.1"})
	readError(t, a, protocol.ErrBadVersion)
	if err := a.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readError(t, a, protocol.ErrRequestNotValid)

	// The connection survives bad frames.
	send(t, a, msg(protocol.TypeRegister))
	read(t, a, protocol.TypeRegistered, nil)
}

func TestServer_HandshakeRefusals(t *testing.T) {
	url := newServer(t)

	bad := dial(t, url, map[string]any{"type": protocol.TypeHello, "protocol_version": "0.9", "agent_id": "a"})
	readError(t, bad, protocol.ErrBadVersion)

	unknown := dial(t, url, map[string]any{"type": protocol.TypeHello, "protocol_version": protocol.Version, "agent_id": "a", "game_id": "nope"})
	readError(t, unknown, protocol.ErrUnknownGame)

	first := dial(t, url, hello("a"))
	var w protocol.WelcomeMsg
	read(t, first, protocol.TypeWelcome, &w)
	second := dial(t, url, withToken(hello("a"), w.ResumeToken))
	readError(t, second, protocol.ErrAlreadyConnected)

	noHello := dial(t, url, msg(protocol.TypeRegister))
	_ = noHello.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := noHello.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func withToken(h map[string]any, token string) map[string]any {
	h["auth"] = map[string]any{"token": token}
	return h
}

func TestServer_ReattachRequiresResumeToken(t *testing.T) {
	url := newServer(t)

	b := dial(t, url, hello("b"))
	var w protocol.WelcomeMsg
	read(t, b, protocol.TypeWelcome, &w)
	if w.ResumeToken == "" {
		t.Fatalf("welcome without resume token: %+v", w)
	}
	send(t, b, msg(protocol.TypeRegister))
	read(t, b, protocol.TypeRegistered, nil)
	_ = b.Close()

	noToken := dial(t, url, hello("b"))
	readError(t, noToken, protocol.ErrBadToken)
	wrong := dial(t, url, withToken(hello("b"), "resume_guess"))
	readError(t, wrong, protocol.ErrBadToken)

	// The old connection detaches asynchronously.
	var back *websocket.Conn
	for i := 0; i < 100 && back == nil; i++ {
		conn := dial(t, url, withToken(hello("b"), w.ResumeToken))
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, _ := protocol.DecodeBase(raw)
		switch base.Type {
		case protocol.TypeWelcome:
			var again protocol.WelcomeMsg
			_ = json.Unmarshal(raw, &again)
			if again.ResumeToken != w.ResumeToken {
				t.Fatalf("token changed: %q -> %q", w.ResumeToken, again.ResumeToken)
			}
			back = conn
		case protocol.TypeTacError:
			time.Sleep(20 * time.Millisecond)
		default:
			t.Fatalf("unexpected %s", raw)
		}
	}
	if back == nil {
		t.Fatalf("reattach with token never succeeded")
	}
	send(t, back, msg(protocol.TypeRegister))
	readError(t, back, protocol.ErrAgentAlreadyRegistered)
}
