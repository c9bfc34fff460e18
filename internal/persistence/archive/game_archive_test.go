package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tacarena.ai/internal/persistence/report"
)

func TestArchiveGame_CopiesReportAndEvents(t *testing.T) {
	dir := t.TempDir()
	gameDir := filepath.Join(dir, "games", "g1")
	if err := os.MkdirAll(filepath.Join(gameDir, "events"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(gameDir, report.FileName), []byte("report"), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}
	if err := os.WriteFile(filepath.Join(gameDir, "events", "events-2026-01-02-10.jsonl.zst"), []byte("ev"), 0o644); err != nil {
		t.Fatalf("write events: %v", err)
	}

	r := report.Report{
		Header:    report.Header{Version: report.Version, GameID: "g1", Phase: "TERMINATED", EndedAtMs: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC).UnixMilli()},
		EndReason: "inactivity",
		Goods:     []string{"good_1"},
		Agents:    []report.AgentResult{{AgentID: "winner"}, {AgentID: "other"}},
	}
	archiveDir, err := ArchiveGame(dir, gameDir, r)
	if err != nil {
		t.Fatalf("ArchiveGame: %v", err)
	}
	if want := filepath.Join(dir, "archives", "2026-01", "g1"); archiveDir != want {
		t.Fatalf("archiveDir=%s want %s", archiveDir, want)
	}
	got, err := os.ReadFile(filepath.Join(archiveDir, "events", "events-2026-01-02-10.jsonl.zst"))
	if err != nil || string(got) != "ev" {
		t.Fatalf("events copy: %q %v", got, err)
	}

	b, err := os.ReadFile(filepath.Join(archiveDir, "meta.json"))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var meta GameArchiveMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	if meta.Winner != "winner" || meta.Agents != 2 || len(meta.Files) != 2 {
		t.Fatalf("meta=%+v", meta)
	}
}

func TestArchiveGame_SkipsMissingReport(t *testing.T) {
	dir := t.TempDir()
	r := report.Report{Header: report.Header{GameID: "g2", Phase: "CANCELLED"}}
	archiveDir, err := ArchiveGame(dir, filepath.Join(dir, "games", "g2"), r)
	if err != nil {
		t.Fatalf("ArchiveGame: %v", err)
	}
	if _, err := os.Stat(filepath.Join(archiveDir, "meta.json")); err != nil {
		t.Fatalf("meta missing: %v", err)
	}
}

func TestArchiveGame_RequiresGameID(t *testing.T) {
	if _, err := ArchiveGame(t.TempDir(), t.TempDir(), report.Report{}); err == nil {
		t.Fatalf("expected error")
	}
}
