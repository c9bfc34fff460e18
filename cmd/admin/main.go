// Command admin inspects local game data and drives a running server's
// loopback admin API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"tacarena.ai/internal/persistence/report"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "games", "create", "start", "stop", "delete", "history", "leaderboard":
			httpCmd(os.Args[1], os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints one line per game directory with its report header, if any.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gamesDir := fs.String("games_dir", "games", "games directory relative to -data")
	_ = fs.Parse(args)

	base := *gamesDir
	if !filepath.IsAbs(base) {
		base = filepath.Join(*dataDir, base)
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		h, err := report.ReadHeader(filepath.Join(base, name, report.FileName))
		if err != nil {
			fmt.Printf("%s\t(no report)\n", name)
			continue
		}
		fmt.Printf("%s\t%s\tended=%s\n", name, h.Phase, report.Report{Header: h}.EndedAt().UTC().Format("2006-01-02T15:04:05Z"))
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
