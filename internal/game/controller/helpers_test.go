package controller

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/persistence/report"
	"tacarena.ai/internal/protocol"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func testGame() tuning.Game {
	g := tuning.Defaults()
	g.NbAgents = 2
	g.NbGoods = 2
	return g
}

func newTestController(t *testing.T, g tuning.Game) (*Controller, *fakeClock, chan report.Report) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	c, err := New(Config{ID: "g1", Game: g, Logger: zerolog.Nop(), Now: clk.Now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sink := make(chan report.Report, 1)
	c.SetReportSink(sink)
	return c, clk, sink
}

func connect(c *Controller, agentID string) chan []byte {
	out := make(chan []byte, 64)
	c.handleAttach(attachReq{AgentID: agentID, Out: out, Resp: make(chan attachResp, 1)})
	return out
}

func next(t *testing.T, ch chan []byte) (string, []byte) {
	t.Helper()
	select {
	case b := <-ch:
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode outbound: %v", err)
		}
		return base.Type, b
	default:
		t.Fatalf("no message queued")
	}
	return "", nil
}

func expect(t *testing.T, ch chan []byte, typ string, v any) {
	t.Helper()
	got, b := next(t, ch)
	if got != typ {
		t.Fatalf("got %s want %s: %s", got, typ, b)
	}
	if v != nil {
		if err := json.Unmarshal(b, v); err != nil {
			t.Fatalf("unmarshal %s: %v", typ, err)
		}
	}
}

func expectError(t *testing.T, ch chan []byte, code string) protocol.TacErrorMsg {
	t.Helper()
	var e protocol.TacErrorMsg
	expect(t, ch, protocol.TypeTacError, &e)
	if e.ErrorCode != code {
		t.Fatalf("error code=%s want %s (%s)", e.ErrorCode, code, e.Message)
	}
	return e
}

func expectEmpty(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case b := <-ch:
		t.Fatalf("unexpected message: %s", b)
	default:
	}
}

func register(c *Controller, agentID string) {
	c.handle(Envelope{AgentID: agentID, Msg: protocol.RegisterMsg{Type: protocol.TypeRegister, ProtocolVersion: protocol.Version, AgentName: "name-" + agentID}})
}

func trade(c *Controller, sender, counterparty, id string, buyer bool, amount int64, q map[string]int64) {
	c.handle(Envelope{AgentID: sender, Msg: protocol.TransactionMsg{
		Type:            protocol.TypeTransaction,
		ProtocolVersion: protocol.Version,
		TransactionID:   id,
		Counterparty:    counterparty,
		IsSenderBuyer:   buyer,
		Amount:          amount,
		Quantities:      q,
	}})
}

func getState(c *Controller, agentID string) {
	c.handle(Envelope{AgentID: agentID, Msg: protocol.GetStateUpdateMsg{Type: protocol.TypeGetStateUpdate, ProtocolVersion: protocol.Version}})
}

// startGame registers a and b and consumes REGISTERED and GAME_DATA.
func startGame(t *testing.T, c *Controller) (a, b chan []byte) {
	t.Helper()
	a = connect(c, "a")
	b = connect(c, "b")
	register(c, "a")
	register(c, "b")
	expect(t, a, protocol.TypeRegistered, nil)
	expect(t, b, protocol.TypeRegistered, nil)
	expect(t, a, protocol.TypeGameData, nil)
	expect(t, b, protocol.TypeGameData, nil)
	if c.phase != PhaseRunning {
		t.Fatalf("phase=%s want RUNNING", c.phase)
	}
	return a, b
}
