package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tacarena.ai/internal/game/controller"
	"tacarena.ai/internal/persistence/report"
)

// SQLiteIndex is a queryable secondary index of finished games. Writes are
// queued to a single writer goroutine; the compressed event log and report
// files remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEventTotal  atomic.Uint64
	dropReportTotal atomic.Uint64
	writeErrTotal   atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqReport
)

type req struct {
	kind reqKind

	event  controller.Event
	report reportRow
}

type reportRow struct {
	Path   string
	Report report.Report
}

// Stats reports queue pressure for /metrics.
type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	DropEventTotal  uint64
	DropReportTotal uint64
	WriteErrTotal   uint64
}

// GameRow is one row of the games table.
type GameRow struct {
	GameID       string `json:"game_id"`
	Phase        string `json:"phase"`
	EndReason    string `json:"end_reason"`
	NbAgents     int    `json:"nb_agents"`
	NbGoods      int    `json:"nb_goods"`
	Transactions int    `json:"transactions"`
	FeesBurned   int64  `json:"fees_burned"`
	StartedAtMs  int64  `json:"started_at_ms"`
	EndedAtMs    int64  `json:"ended_at_ms"`
	ReportPath   string `json:"report_path"`
}

// Standing is one agent's final placement in a game.
type Standing struct {
	Rank         int     `json:"rank"`
	AgentID      string  `json:"agent_id"`
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
	FinalBalance int64   `json:"final_balance"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	st, err := prepareStatements(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer st.close()
		s.loop(st)
	}()
	return s, nil
}

type statements struct {
	insertEvent *sql.Stmt
	insertGame  *sql.Stmt
	insertAgent *sql.Stmt
	insertTx    *sql.Stmt
}

func prepareStatements(db *sql.DB) (statements, error) {
	var (
		st  statements
		err error
	)
	for _, p := range []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&st.insertEvent, "events", `INSERT OR REPLACE INTO events(game_id,seq,ts_ms,kind,agent_id,transaction_id,code,raw_json) VALUES(?,?,?,?,?,?,?,?)`},
		{&st.insertGame, "games", `INSERT OR REPLACE INTO games(game_id,phase,end_reason,nb_agents,nb_goods,tx_fee,transactions,fees_burned,created_at_ms,started_at_ms,ended_at_ms,report_path,config_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`},
		{&st.insertAgent, "agents", `INSERT OR REPLACE INTO agents(game_id,agent_id,name,rank,initial_balance,final_balance,score,final_json) VALUES(?,?,?,?,?,?,?,?)`},
		{&st.insertTx, "transactions", `INSERT OR REPLACE INTO transactions(game_id,seq,transaction_id,buyer,seller,amount,fee,quantities_json,ts_ms) VALUES(?,?,?,?,?,?,?,?,?)`},
	} {
		if *p.dst, err = db.Prepare(p.query); err != nil {
			st.close()
			return statements{}, fmt.Errorf("prepare %s insert: %w", p.name, err)
		}
	}
	return st, nil
}

func (st statements) close() {
	for _, s := range []*sql.Stmt{st.insertEvent, st.insertGame, st.insertAgent, st.insertTx} {
		if s != nil {
			_ = s.Close()
		}
	}
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS games (
			game_id TEXT PRIMARY KEY,
			phase TEXT NOT NULL,
			end_reason TEXT NOT NULL,
			nb_agents INTEGER NOT NULL,
			nb_goods INTEGER NOT NULL,
			tx_fee INTEGER NOT NULL,
			transactions INTEGER NOT NULL,
			fees_burned INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			started_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER NOT NULL,
			report_path TEXT NOT NULL,
			config_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_games_ended ON games(ended_at_ms);`,
		`CREATE TABLE IF NOT EXISTS agents (
			game_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			rank INTEGER NOT NULL,
			initial_balance INTEGER NOT NULL,
			final_balance INTEGER NOT NULL,
			score REAL NOT NULL,
			final_json TEXT NOT NULL,
			PRIMARY KEY (game_id, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			game_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			transaction_id TEXT NOT NULL,
			buyer TEXT NOT NULL,
			seller TEXT NOT NULL,
			amount INTEGER NOT NULL,
			fee INTEGER NOT NULL,
			quantities_json TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			PRIMARY KEY (game_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_buyer ON transactions(game_id, buyer);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_seller ON transactions(game_id, seller);`,
		`CREATE TABLE IF NOT EXISTS events (
			game_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			agent_id TEXT,
			transaction_id TEXT,
			code TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (game_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON events(game_id, agent_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropEventTotal:  s.dropEventTotal.Load(),
		DropReportTotal: s.dropReportTotal.Load(),
		WriteErrTotal:   s.writeErrTotal.Load(),
	}
}

// WriteEvent implements controller.EventLogger. It never blocks the game loop.
func (s *SQLiteIndex) WriteEvent(e controller.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEventTotal.Add(1)
	}
	return nil
}

// RecordReport indexes a finished game and its transactions. path is where
// the report file was written.
func (s *SQLiteIndex) RecordReport(path string, r report.Report) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqReport, report: reportRow{Path: path, Report: r}}:
	default:
		s.dropReportTotal.Add(1)
	}
}

// Games lists indexed games, most recently ended first.
func (s *SQLiteIndex) Games(ctx context.Context, limit int) ([]GameRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT game_id,phase,end_reason,nb_agents,nb_goods,transactions,fees_burned,started_at_ms,ended_at_ms,report_path
		FROM games ORDER BY ended_at_ms DESC, game_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GameRow
	for rows.Next() {
		var g GameRow
		if err := rows.Scan(&g.GameID, &g.Phase, &g.EndReason, &g.NbAgents, &g.NbGoods, &g.Transactions, &g.FeesBurned, &g.StartedAtMs, &g.EndedAtMs, &g.ReportPath); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Leaderboard returns the final standings of one game by rank.
func (s *SQLiteIndex) Leaderboard(ctx context.Context, gameID string) ([]Standing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rank,agent_id,name,score,final_balance FROM agents WHERE game_id=? ORDER BY rank`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.Rank, &st.AgentID, &st.Name, &st.Score, &st.FinalBalance); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop(st statements) {
	ctx := context.Background()
	insertEvent, insertGame, insertAgent, insertTx := st.insertEvent, st.insertGame, st.insertAgent, st.insertTx

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 500 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrTotal.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			s.writeErrTotal.Add(1)
			rollback()
			return false
		}
		opCount++
		return true
	}

	// Idle batches must not hold the single connection open; readers share it.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			raw, _ := json.Marshal(e)
			exec(insertEvent, e.GameID, int64(e.Seq), e.UnixMs, e.Kind, e.AgentID, e.TransactionID, e.Code, string(raw))

		case reqReport:
			rep := r.report.Report
			cfg, _ := json.Marshal(rep.Config)
			if !exec(insertGame,
				rep.Header.GameID,
				rep.Header.Phase,
				rep.EndReason,
				len(rep.Agents),
				len(rep.Goods),
				rep.Config.TxFee,
				len(rep.Transactions),
				rep.FeesBurned,
				rep.CreatedAtMs,
				rep.StartedAtMs,
				rep.Header.EndedAtMs,
				r.report.Path,
				string(cfg),
			) {
				continue
			}
			for i, a := range rep.Agents {
				final, _ := json.Marshal(a.Final)
				if !exec(insertAgent, rep.Header.GameID, a.AgentID, a.Name, i+1, a.Initial.Balance, a.Final.Balance, a.Score, string(final)) {
					break
				}
			}
			for _, t := range rep.Transactions {
				if tx == nil {
					break
				}
				q, _ := json.Marshal(t.Quantities)
				if !exec(insertTx, rep.Header.GameID, int64(t.Seq), t.ID, t.Buyer, t.Seller, t.Amount, t.Fee, string(q), t.UnixMs) {
					break
				}
			}
			// Reports are rare; make them visible right away.
			commit()
			continue
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}
