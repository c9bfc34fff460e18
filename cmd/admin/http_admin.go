package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// httpCmd maps a subcommand onto the server's /admin/v1 endpoints and prints
// the JSON response.
func httpCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	gameID := fs.String("game", "", "game id")
	configPath := fs.String("config", "", "game.yaml overlay (create)")
	force := fs.Bool("force", false, "stop a running game before deleting it (delete)")
	limit := fs.Int("limit", 20, "result limit (history)")
	_ = fs.Parse(args)

	method, path, err := adminRoute(name, *gameID, *force, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var body io.Reader
	if name == "create" && *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open config:", err)
			os.Exit(1)
		}
		defer f.Close()
		body = f
	}

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + path
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func adminRoute(name, gameID string, force bool, limit int) (string, string, error) {
	needID := func() error {
		if strings.TrimSpace(gameID) == "" {
			return fmt.Errorf("%s: missing -game", name)
		}
		return nil
	}
	id := url.PathEscape(gameID)
	switch name {
	case "games":
		if gameID != "" {
			return http.MethodGet, "/admin/v1/games/" + id, nil
		}
		return http.MethodGet, "/admin/v1/games", nil
	case "create":
		return http.MethodPost, "/admin/v1/games", nil
	case "start", "stop":
		if err := needID(); err != nil {
			return "", "", err
		}
		return http.MethodPost, "/admin/v1/games/" + id + "/" + name, nil
	case "delete":
		if err := needID(); err != nil {
			return "", "", err
		}
		p := "/admin/v1/games/" + id
		if force {
			p += "?force=1"
		}
		return http.MethodDelete, p, nil
	case "history":
		return http.MethodGet, fmt.Sprintf("/admin/v1/history?limit=%d", limit), nil
	case "leaderboard":
		if err := needID(); err != nil {
			return "", "", err
		}
		return http.MethodGet, "/admin/v1/history/" + id + "/leaderboard", nil
	}
	return "", "", fmt.Errorf("unknown command %q", name)
}
