package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tacarena.ai/internal/game/controller"
	persistlog "tacarena.ai/internal/persistence/log"
	"tacarena.ai/internal/persistence/report"
)

func main() {
	var (
		gameDir    = flag.String("game_dir", "", "game directory containing report.json.zst and events/")
		reportPath = flag.String("report", "", "path to report.json.zst (default: <game_dir>/report.json.zst)")
		withEvents = flag.Bool("events", true, "cross-check the event log when <game_dir>/events exists")
	)
	flag.Parse()

	path := strings.TrimSpace(*reportPath)
	if path == "" && *gameDir != "" {
		path = filepath.Join(*gameDir, report.FileName)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "missing -game_dir or -report")
		os.Exit(2)
	}

	r, err := report.Read(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read report:", err)
		os.Exit(1)
	}
	fmt.Printf("report v%d game=%s phase=%s reason=%s agents=%d goods=%d transactions=%d fees_burned=%d\n",
		r.Header.Version, r.Header.GameID, r.Header.Phase, r.EndReason,
		len(r.Agents), len(r.Goods), len(r.Transactions), r.FeesBurned)

	if err := report.Verify(r); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
	for i, a := range r.Agents {
		fmt.Printf("  %2d. %-20s %-20s score=%.4f balance=%d\n", i+1, a.AgentID, a.Name, a.Score, a.Final.Balance)
	}

	dir := *gameDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	if *withEvents {
		events, err := persistlog.ReadEvents(dir)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			fmt.Fprintln(os.Stderr, "read events:", err)
			os.Exit(1)
		default:
			fmt.Println("events:", summarize(events))
			if err := checkEvents(r, events); err != nil {
				fmt.Fprintln(os.Stderr, "events:", err)
				os.Exit(1)
			}
		}
	}
	fmt.Println("replay ok")
}

// summarize renders event counts per kind in a stable order.
func summarize(events []controller.Event) string {
	counts := map[string]int{}
	for _, e := range events {
		counts[e.Kind]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

// checkEvents verifies that the event log settled exactly the report's
// transactions, in the same order.
func checkEvents(r report.Report, events []controller.Event) error {
	var settled []string
	for _, e := range events {
		if e.GameID != "" && e.GameID != r.Header.GameID {
			return fmt.Errorf("event seq=%d belongs to game %s", e.Seq, e.GameID)
		}
		if e.Kind == "SETTLED" {
			settled = append(settled, e.TransactionID)
		}
	}
	if len(settled) != len(r.Transactions) {
		return fmt.Errorf("settled events=%d report transactions=%d", len(settled), len(r.Transactions))
	}
	txs := append(r.Transactions[:0:0], r.Transactions...)
	sort.Slice(txs, func(i, j int) bool { return txs[i].Seq < txs[j].Seq })
	for i, tx := range txs {
		if settled[i] != tx.ID {
			return fmt.Errorf("settlement %d: event=%s report=%s", i, settled[i], tx.ID)
		}
	}
	return nil
}
