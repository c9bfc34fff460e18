package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "game.yaml")
	body := "nb_agents: 2\nnb_goods: 3\ntx_fee: 2\ninactivity_timeout: 5s\npending_transaction_timeout: 1500ms\nwhitelist: [alice, bob]\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	g, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.NbAgents != 2 || g.NbGoods != 3 || g.TxFee != 2 {
		t.Fatalf("unexpected values: %+v", g)
	}
	if g.InactivityTimeout != 5*time.Second || g.PendingTransactionTimeout != 1500*time.Millisecond {
		t.Fatalf("durations: inactivity=%s pending=%s", g.InactivityTimeout, g.PendingTransactionTimeout)
	}
	if g.CompetitionTimeout != 240*time.Second || g.MoneyEndowment != 200 || !g.StartOnQuorum {
		t.Fatalf("defaults not kept: %+v", g)
	}
	if len(g.Whitelist) != 2 {
		t.Fatalf("whitelist=%v", g.Whitelist)
	}
}

func TestLoad_ReportsAllProblems(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "game.yaml")
	body := "nb_goods: 0\nlower_bound_factor: 3\nupper_bound_factor: 1\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "game.yaml: ") || !strings.Contains(msg, "nb_goods") || !strings.Contains(msg, "lower_bound_factor") {
		t.Fatalf("error does not list every problem: %s", msg)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	g, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if g.Seed != 42 || g.NbAgents != 5 {
		t.Fatalf("unexpected defaults: %+v", g)
	}
}
