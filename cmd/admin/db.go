package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd queries the server's sqlite index directly. It works while the
// server is down.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/tac.sqlite)")
	gameID := fs.String("game", "", "game id (transactions, events)")
	agentID := fs.String("agent", "", "agent_id filter (transactions, events)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "games"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "tac.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q != "games" && strings.TrimSpace(*gameID) == "" {
		fmt.Fprintln(os.Stderr, "missing -game")
		os.Exit(2)
	}

	var err2 error
	switch q {
	case "games":
		err2 = queryGames(db, *limit)
	case "transactions":
		err2 = queryTransactions(db, *gameID, *agentID, *limit)
	case "events":
		err2 = queryEvents(db, *gameID, *agentID, *limit)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
	if err2 != nil {
		fmt.Fprintln(os.Stderr, "query:", err2)
		os.Exit(1)
	}
}

func queryGames(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT game_id,phase,end_reason,nb_agents,nb_goods,transactions,fees_burned,ended_at_ms FROM games ORDER BY ended_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			GameID       string `json:"game_id"`
			Phase        string `json:"phase"`
			EndReason    string `json:"end_reason"`
			NbAgents     int    `json:"nb_agents"`
			NbGoods      int    `json:"nb_goods"`
			Transactions int    `json:"transactions"`
			FeesBurned   int64  `json:"fees_burned"`
			EndedAtMs    int64  `json:"ended_at_ms"`
		}
		if err := rows.Scan(&r.GameID, &r.Phase, &r.EndReason, &r.NbAgents, &r.NbGoods, &r.Transactions, &r.FeesBurned, &r.EndedAtMs); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryTransactions(db *sql.DB, gameID, agentID string, limit int) error {
	rows, err := db.Query(`SELECT seq,transaction_id,buyer,seller,amount,fee,quantities_json,ts_ms FROM transactions
		WHERE game_id=? AND (?='' OR buyer=? OR seller=?) ORDER BY seq LIMIT ?`, gameID, agentID, agentID, agentID, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Seq           int64  `json:"seq"`
			TransactionID string `json:"transaction_id"`
			Buyer         string `json:"buyer"`
			Seller        string `json:"seller"`
			Amount        int64  `json:"amount"`
			Fee           int64  `json:"fee"`
			Quantities    string `json:"quantities"`
			TsMs          int64  `json:"ts_ms"`
		}
		if err := rows.Scan(&r.Seq, &r.TransactionID, &r.Buyer, &r.Seller, &r.Amount, &r.Fee, &r.Quantities, &r.TsMs); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryEvents(db *sql.DB, gameID, agentID string, limit int) error {
	rows, err := db.Query(`SELECT raw_json FROM events WHERE game_id=? AND (?='' OR agent_id=?) ORDER BY seq LIMIT ?`, gameID, agentID, agentID, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		fmt.Println(raw)
	}
	return rows.Err()
}
