package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"tacarena.ai/internal/persistence/report"
)

type GameArchiveMeta struct {
	GameID       string   `json:"game_id"`
	Phase        string   `json:"phase"`
	EndReason    string   `json:"end_reason"`
	Winner       string   `json:"winner,omitempty"`
	Agents       int      `json:"agents"`
	Transactions int      `json:"transactions"`
	Seed         int64    `json:"seed"`
	Files        []string `json:"files"`
	CreatedAt    string   `json:"created_at"`
}

// ArchiveGame copies a finished game's report and event logs from gameDir
// into `dataDir/archives/<YYYY-MM>/<game_id>/` and writes meta.json next to
// them. It returns the archive directory.
func ArchiveGame(dataDir, gameDir string, r report.Report) (string, error) {
	if r.Header.GameID == "" {
		return "", fmt.Errorf("archive: report has no game id")
	}
	month := time.UnixMilli(r.Header.EndedAtMs).UTC().Format("2006-01")
	archiveDir := filepath.Join(dataDir, "archives", month, r.Header.GameID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	var files []string
	srcs := []string{filepath.Join(gameDir, report.FileName)}
	events, _ := filepath.Glob(filepath.Join(gameDir, "events", "*.jsonl.zst"))
	srcs = append(srcs, events...)
	for _, src := range srcs {
		rel, err := filepath.Rel(gameDir, src)
		if err != nil {
			return "", err
		}
		dst := filepath.Join(archiveDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", err
		}
		if err := copyFile(src, dst); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		files = append(files, filepath.ToSlash(rel))
	}

	meta := GameArchiveMeta{
		GameID:       r.Header.GameID,
		Phase:        r.Header.Phase,
		EndReason:    r.EndReason,
		Agents:       len(r.Agents),
		Transactions: len(r.Transactions),
		Seed:         r.Config.Seed,
		Files:        files,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(r.Goods) > 0 && len(r.Agents) > 0 {
		meta.Winner = r.Agents[0].AgentID
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return archiveDir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
