package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tacarena.ai/internal/arena"
	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/persistence/archive"
	"tacarena.ai/internal/persistence/indexdb"
	"tacarena.ai/internal/persistence/report"
)

type adminFixture struct {
	srv      *httptest.Server
	reg      *arena.Registry
	idx      *indexdb.SQLiteIndex
	dataDir  string
	gamesDir string
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	dataDir := t.TempDir()
	gamesDir := filepath.Join(dataDir, "games")

	idx, err := openIndex(dataDir, "", false)
	if err != nil {
		t.Fatalf("openIndex: %v", err)
	}

	reports := make(chan report.Report, 8)
	reg := arena.NewRegistry(arena.Config{MaxGames: 4}, arena.Options{Logger: zerolog.Nop(), Reports: reports})
	writer := &reportWriter{gamesDir: gamesDir, idx: idx, reg: reg, log: zerolog.Nop()}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writer.run(reports)
	}()

	def := tuning.Defaults()
	def.NbAgents = 2
	def.NbGoods = 2
	api := &adminAPI{
		reg:         reg,
		idx:         idx,
		dataDir:     dataDir,
		gamesDir:    gamesDir,
		archive:     true,
		defaultGame: def,
		log:         zerolog.Nop(),
	}
	mux := http.NewServeMux()
	api.register(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
		close(reports)
		<-writerDone
		_ = idx.Close()
	})
	return &adminFixture{srv: srv, reg: reg, idx: idx, dataDir: dataDir, gamesDir: gamesDir}
}

func (f *adminFixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAdmin_CreateStopDeleteArchives(t *testing.T) {
	f := newAdminFixture(t)

	var created controller.Status
	code := f.do(t, http.MethodPost, "/admin/v1/games", "nb_goods: 3\nregistration_timeout: 30s\n", &created)
	if code != http.StatusCreated {
		t.Fatalf("create status=%d", code)
	}
	if created.GameID == "" || created.Phase != controller.PhaseAwaitingRegistration {
		t.Fatalf("created=%+v", created)
	}
	c, ok := f.reg.Lookup(created.GameID)
	if !ok {
		t.Fatalf("game not in registry")
	}
	if cfg := c.Config(); cfg.NbGoods != 3 || cfg.NbAgents != 2 || cfg.RegistrationTimeout != 30*time.Second {
		t.Fatalf("config overlay=%+v", cfg)
	}

	var list struct {
		Games []controller.Status `json:"games"`
	}
	if code := f.do(t, http.MethodGet, "/admin/v1/games", "", &list); code != http.StatusOK || len(list.Games) != 1 {
		t.Fatalf("list status=%d games=%+v", code, list.Games)
	}

	if code := f.do(t, http.MethodDelete, "/admin/v1/games/"+created.GameID, "", nil); code != http.StatusConflict {
		t.Fatalf("delete running game status=%d", code)
	}

	var stopped struct {
		OK     bool              `json:"ok"`
		Status controller.Status `json:"status"`
	}
	if code := f.do(t, http.MethodPost, "/admin/v1/games/"+created.GameID+"/stop", "", &stopped); code != http.StatusOK {
		t.Fatalf("stop status=%d", code)
	}
	if !stopped.OK || stopped.Status.Phase != controller.PhaseCancelled || stopped.Status.EndReason != controller.ReasonAdminStop {
		t.Fatalf("stopped=%+v", stopped)
	}

	// Stopping twice is a conflict.
	if code := f.do(t, http.MethodPost, "/admin/v1/games/"+created.GameID+"/stop", "", nil); code != http.StatusServiceUnavailable && code != http.StatusConflict {
		t.Fatalf("second stop status=%d", code)
	}

	var deleted struct {
		OK      bool   `json:"ok"`
		Archive string `json:"archive"`
	}
	if code := f.do(t, http.MethodDelete, "/admin/v1/games/"+created.GameID, "", &deleted); code != http.StatusOK {
		t.Fatalf("delete status=%d", code)
	}
	if !deleted.OK || deleted.Archive == "" {
		t.Fatalf("deleted=%+v", deleted)
	}
	raw, err := os.ReadFile(filepath.Join(deleted.Archive, "meta.json"))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var meta archive.GameArchiveMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("meta json: %v", err)
	}
	if meta.GameID != created.GameID || meta.Phase != string(controller.PhaseCancelled) {
		t.Fatalf("meta=%+v", meta)
	}
	if _, err := os.Stat(filepath.Join(deleted.Archive, report.FileName)); err != nil {
		t.Fatalf("archived report: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.gamesDir, created.GameID)); !os.IsNotExist(err) {
		t.Fatalf("game dir still present: %v", err)
	}
	if code := f.do(t, http.MethodGet, "/admin/v1/games/"+created.GameID, "", nil); code != http.StatusNotFound {
		t.Fatalf("status after delete=%d", code)
	}
}

func TestAdmin_HistoryAndLeaderboard(t *testing.T) {
	f := newAdminFixture(t)

	var created controller.Status
	if code := f.do(t, http.MethodPost, "/admin/v1/games", "", &created); code != http.StatusCreated {
		t.Fatalf("create status=%d", code)
	}
	if code := f.do(t, http.MethodPost, "/admin/v1/games/"+created.GameID+"/stop", "", nil); code != http.StatusOK {
		t.Fatalf("stop status=%d", code)
	}

	var hist struct {
		Games []indexdb.GameRow `json:"games"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if code := f.do(t, http.MethodGet, "/admin/v1/history?limit=10", "", &hist); code != http.StatusOK {
			t.Fatalf("history status=%d", code)
		}
		if len(hist.Games) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("game never indexed")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if g := hist.Games[0]; g.GameID != created.GameID || g.Phase != string(controller.PhaseCancelled) {
		t.Fatalf("history row=%+v", g)
	}

	var board struct {
		GameID    string             `json:"game_id"`
		Standings []indexdb.Standing `json:"standings"`
	}
	if code := f.do(t, http.MethodGet, "/admin/v1/history/"+created.GameID+"/leaderboard", "", &board); code != http.StatusOK {
		t.Fatalf("leaderboard status=%d", code)
	}
	if board.GameID != created.GameID || len(board.Standings) != 0 {
		t.Fatalf("board=%+v", board)
	}
}

func TestAdmin_Errors(t *testing.T) {
	f := newAdminFixture(t)

	if code := f.do(t, http.MethodPost, "/admin/v1/games", "nb_agents: [", nil); code != http.StatusBadRequest {
		t.Fatalf("bad yaml status=%d", code)
	}
	if code := f.do(t, http.MethodPost, "/admin/v1/games", "nb_agents: 0\n", nil); code != http.StatusBadRequest {
		t.Fatalf("invalid config status=%d", code)
	}
	if code := f.do(t, http.MethodPost, "/admin/v1/games/nope/start", "", nil); code != http.StatusNotFound {
		t.Fatalf("unknown game status=%d", code)
	}
	if code := f.do(t, http.MethodDelete, "/admin/v1/games/nope?force=1", "", nil); code != http.StatusNotFound {
		t.Fatalf("unknown delete status=%d", code)
	}

	for i := 0; i < 4; i++ {
		if code := f.do(t, http.MethodPost, "/admin/v1/games", "", nil); code != http.StatusCreated {
			t.Fatalf("create %d status=%d", i, code)
		}
	}
	if code := f.do(t, http.MethodPost, "/admin/v1/games", "", nil); code != http.StatusTooManyRequests {
		t.Fatalf("over limit status=%d", code)
	}

	// Starting early is refused until the quorum has registered.
	id := f.reg.IDs()[0]
	var resp struct {
		OK     bool              `json:"ok"`
		Status controller.Status `json:"status"`
	}
	if code := f.do(t, http.MethodPost, "/admin/v1/games/"+id+"/start", "", &resp); code != http.StatusConflict {
		t.Fatalf("start without quorum status=%d", code)
	}
	if resp.OK || resp.Status.Phase != controller.PhaseAwaitingRegistration {
		t.Fatalf("start without quorum resp=%+v", resp)
	}

	api := &adminAPI{reg: f.reg, log: zerolog.Nop()}
	mux := http.NewServeMux()
	api.register(mux)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/games", nil)
	req.RemoteAddr = "203.0.113.7:4567"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin status=%d", rec.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80":  true,
		"[::1]:9000":    true,
		"10.0.0.2:1234": false,
		"garbage":       false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}
