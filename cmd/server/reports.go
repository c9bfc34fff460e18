package main

import (
	"path/filepath"

	"github.com/rs/zerolog"

	"tacarena.ai/internal/arena"
	"tacarena.ai/internal/game/tuning"
	"tacarena.ai/internal/persistence/indexdb"
	persistlog "tacarena.ai/internal/persistence/log"
	"tacarena.ai/internal/persistence/report"
)

// gameEventLog sends a game's events to its own file and to the shared index.
// Only the file is closed with the game.
type gameEventLog struct {
	persistlog.Tee
	file *persistlog.EventLogger
}

func (g gameEventLog) Close() error { return g.file.Close() }

type reportWriter struct {
	gamesDir string
	idx      *indexdb.SQLiteIndex
	reg      *arena.Registry
	log      zerolog.Logger

	// When set, a fresh game with this configuration is opened whenever
	// no game is accepting registrations.
	defaultGame *tuning.Game
}

func (w *reportWriter) gameDir(id string) string { return filepath.Join(w.gamesDir, id) }

// run writes every report until ch is closed.
func (w *reportWriter) run(ch <-chan report.Report) {
	for r := range ch {
		path := filepath.Join(w.gameDir(r.Header.GameID), report.FileName)
		if err := report.Write(path, r); err != nil {
			w.log.Error().Err(err).Str("game_id", r.Header.GameID).Msg("report write failed")
		} else {
			w.log.Info().
				Str("game_id", r.Header.GameID).
				Str("phase", r.Header.Phase).
				Str("reason", r.EndReason).
				Int("transactions", len(r.Transactions)).
				Str("path", path).
				Msg("report written")
			w.idx.RecordReport(path, r)
		}
		w.ensureOpenGame()
	}
}

func (w *reportWriter) ensureOpenGame() {
	if w.defaultGame == nil || w.reg == nil {
		return
	}
	if _, err := w.reg.Pick(""); err == nil {
		return
	}
	c, err := w.reg.Create(*w.defaultGame)
	if err != nil {
		w.log.Debug().Err(err).Msg("default game not recreated")
		return
	}
	w.log.Info().Str("game_id", c.ID()).Msg("default game opened")
}
