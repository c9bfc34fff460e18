package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tacarena.ai/internal/arena"
	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/observerproto"
)

func setup(t *testing.T) (*httptest.Server, *controller.Controller) {
	t.Helper()
	reg := arena.NewRegistry(arena.Config{}, arena.Options{Logger: zerolog.Nop()})
	g := tuning.Defaults()
	g.NbAgents = 2
	c, err := reg.CreateWithID("g1", g)
	if err != nil {
		t.Fatalf("CreateWithID: %v", err)
	}
	s := NewServer(reg, zerolog.Nop())
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observe", s.WSHandler())
	mux.HandleFunc("/v1/observe/bootstrap", s.BootstrapHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return srv, c
}

func TestBootstrap(t *testing.T) {
	srv, _ := setup(t)
	resp, err := http.Get(srv.URL + "/v1/observe/bootstrap?game_id=g1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Status.GameID != "g1" || b.Status.Phase != controller.PhaseAwaitingRegistration || b.NbGoods != 5 {
		t.Fatalf("bootstrap=%+v", b)
	}

	resp2, err := http.Get(srv.URL + "/v1/observe/bootstrap?game_id=nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d", resp2.StatusCode)
	}
}

func TestStream_MetricsThenFinished(t *testing.T) {
	srv, c := setup(t)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/observe", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	sub, _ := json.Marshal(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, GameID: "g1", IntervalMs: 100})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write: %v", err)
	}

	var m observerproto.MetricsMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.Type != observerproto.TypeMetrics || m.GameID != "g1" || m.Metrics.Phase != controller.PhaseAwaitingRegistration {
		t.Fatalf("metrics=%+v", m)
	}

	if _, err := c.RequestStop(context.Background()); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f observerproto.FinishedMsg
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if f.Type != observerproto.TypeFinished {
			continue
		}
		if f.Status.Phase != controller.PhaseCancelled || f.Status.EndReason != controller.ReasonAdminStop {
			t.Fatalf("finished=%+v", f.Status)
		}
		return
	}
}

func TestNormalizeInterval(t *testing.T) {
	for ms, want := range map[int]time.Duration{0: time.Second, 5: 100 * time.Millisecond, 250: 250 * time.Millisecond, 1e6: time.Minute} {
		if got := normalizeInterval(ms); got != want {
			t.Fatalf("normalizeInterval(%d)=%s want %s", ms, got, want)
		}
	}
}
