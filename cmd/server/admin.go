package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"tacarena.ai/internal/arena"
	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/persistence/archive"
	"tacarena.ai/internal/persistence/indexdb"
	"tacarena.ai/internal/persistence/report"
)

const adminTimeout = 5 * time.Second

// adminAPI serves the loopback-only game management endpoints.
type adminAPI struct {
	reg         *arena.Registry
	idx         *indexdb.SQLiteIndex
	dataDir     string
	gamesDir    string
	archive     bool
	defaultGame tuning.Game
	log         zerolog.Logger
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/v1/games", a.loopback(a.listGames))
	mux.HandleFunc("POST /admin/v1/games", a.loopback(a.createGame))
	mux.HandleFunc("GET /admin/v1/games/{id}", a.loopback(a.gameStatus))
	mux.HandleFunc("POST /admin/v1/games/{id}/start", a.loopback(a.startGame))
	mux.HandleFunc("POST /admin/v1/games/{id}/stop", a.loopback(a.stopGame))
	mux.HandleFunc("DELETE /admin/v1/games/{id}", a.loopback(a.deleteGame))
	mux.HandleFunc("GET /admin/v1/history", a.loopback(a.history))
	mux.HandleFunc("GET /admin/v1/history/{id}/leaderboard", a.loopback(a.leaderboard))
}

func (a *adminAPI) loopback(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *adminAPI) listGames(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	out := []controller.Status{}
	for _, c := range a.reg.Controllers() {
		out = append(out, statusOf(ctx, c))
	}
	writeJSON(rw, http.StatusOK, map[string]any{"games": out})
}

// createGame accepts an optional YAML or JSON body overlaid on the server's
// default game configuration.
func (a *adminAPI) createGame(rw http.ResponseWriter, r *http.Request) {
	g := a.defaultGame
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if len(body) > 0 {
		if err := yaml.Unmarshal(body, &g); err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
	}
	c, err := a.reg.Create(g)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, arena.ErrTooManyGames) {
			status = http.StatusTooManyRequests
		} else if errors.Is(err, controller.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		writeError(rw, status, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	writeJSON(rw, http.StatusCreated, statusOf(ctx, c))
}

func (a *adminAPI) lookup(rw http.ResponseWriter, r *http.Request) (*controller.Controller, bool) {
	c, ok := a.reg.Lookup(r.PathValue("id"))
	if !ok {
		writeError(rw, http.StatusNotFound, arena.ErrUnknownGame)
	}
	return c, ok
}

func (a *adminAPI) gameStatus(rw http.ResponseWriter, r *http.Request) {
	c, ok := a.lookup(rw, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	writeJSON(rw, http.StatusOK, map[string]any{"status": statusOf(ctx, c), "metrics": c.Metrics()})
}

func (a *adminAPI) startGame(rw http.ResponseWriter, r *http.Request) {
	a.lifecycle(rw, r, (*controller.Controller).RequestStart)
}

func (a *adminAPI) stopGame(rw http.ResponseWriter, r *http.Request) {
	a.lifecycle(rw, r, (*controller.Controller).RequestStop)
}

func (a *adminAPI) lifecycle(rw http.ResponseWriter, r *http.Request, call func(*controller.Controller, context.Context) (controller.Status, error)) {
	c, ok := a.lookup(rw, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	st, err := call(c, ctx)
	if err != nil {
		code := http.StatusConflict
		if errors.Is(err, controller.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(rw, code, map[string]any{"ok": false, "error": err.Error(), "status": st})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "status": st})
}

// deleteGame removes a finished game (or any game with ?force=1), archiving
// its files first when archiving is enabled.
func (a *adminAPI) deleteGame(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	if err := a.reg.Destroy(ctx, id, force); err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, arena.ErrUnknownGame):
			code = http.StatusNotFound
		case errors.Is(err, arena.ErrGameRunning):
			code = http.StatusConflict
		}
		writeError(rw, code, err)
		return
	}

	resp := map[string]any{"ok": true, "game_id": id}
	gameDir := filepath.Join(a.gamesDir, id)
	if a.archive {
		// The report is written asynchronously after the game stops.
		path := filepath.Join(gameDir, report.FileName)
		rep, err := waitForReport(ctx, path)
		if err != nil {
			a.log.Warn().Err(err).Str("game_id", id).Msg("no report to archive")
			rep = report.Report{Header: report.Header{GameID: id}}
		}
		dir, err := archive.ArchiveGame(a.dataDir, gameDir, rep)
		if err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		resp["archive"] = dir
	}
	if err := os.RemoveAll(gameDir); err != nil {
		a.log.Warn().Err(err).Str("game_id", id).Msg("remove game dir")
	}
	writeJSON(rw, http.StatusOK, resp)
}

func waitForReport(ctx context.Context, path string) (report.Report, error) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		r, err := report.Read(path)
		if err == nil {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return report.Report{}, err
		case <-t.C:
		}
	}
}

func (a *adminAPI) history(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		writeError(rw, http.StatusNotImplemented, errors.New("index disabled"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	games, err := a.idx.Games(r.Context(), limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"games": games})
}

func (a *adminAPI) leaderboard(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		writeError(rw, http.StatusNotImplemented, errors.New("index disabled"))
		return
	}
	board, err := a.idx.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"game_id": r.PathValue("id"), "standings": board})
}

// statusOf falls back to the lock-free snapshot once the loop has exited.
func statusOf(ctx context.Context, c *controller.Controller) controller.Status {
	st, err := c.RequestStatus(ctx)
	if err != nil {
		return controller.Status{GameID: c.ID(), Phase: c.Phase()}
	}
	return st
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, code int, err error) {
	writeJSON(rw, code, map[string]any{"ok": false, "error": err.Error()})
}
