package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"tacarena.ai/internal/game/genesis"
	"tacarena.ai/internal/game/ledger"
)

// Game is the per-game configuration (configs/game.yaml).
type Game struct {
	NbAgents  int      `yaml:"nb_agents" json:"nb_agents"`
	MinAgents int      `yaml:"min_agents" json:"min_agents,omitempty"`
	NbGoods   int      `yaml:"nb_goods" json:"nb_goods"`
	Whitelist []string `yaml:"whitelist" json:"whitelist,omitempty"`
	// StartOnQuorum closes registration as soon as nb_agents have registered.
	StartOnQuorum bool `yaml:"start_on_quorum" json:"start_on_quorum"`

	TxFee             int64   `yaml:"tx_fee" json:"tx_fee"`
	MoneyEndowment    int64   `yaml:"money_endowment" json:"money_endowment"`
	BaseGoodEndowment int64   `yaml:"base_good_endowment" json:"base_good_endowment"`
	LowerBoundFactor  float64 `yaml:"lower_bound_factor" json:"lower_bound_factor"`
	UpperBoundFactor  float64 `yaml:"upper_bound_factor" json:"upper_bound_factor"`
	UtilityTotal      float64 `yaml:"utility_total" json:"utility_total"`

	ZeroHoldingPenalty float64 `yaml:"zero_holding_penalty" json:"zero_holding_penalty"`
	Seed               int64   `yaml:"seed" json:"seed"`

	RegistrationTimeout       time.Duration `yaml:"registration_timeout" json:"registration_timeout"`
	InactivityTimeout         time.Duration `yaml:"inactivity_timeout" json:"inactivity_timeout"`
	CompetitionTimeout        time.Duration `yaml:"competition_timeout" json:"competition_timeout"`
	PendingTransactionTimeout time.Duration `yaml:"pending_transaction_timeout" json:"pending_transaction_timeout"`
}

func Defaults() Game {
	return Game{
		NbAgents:                  5,
		NbGoods:                   5,
		StartOnQuorum:             true,
		TxFee:                     1,
		MoneyEndowment:            200,
		BaseGoodEndowment:         2,
		LowerBoundFactor:          1,
		UpperBoundFactor:          1,
		UtilityTotal:              100,
		ZeroHoldingPenalty:        ledger.DefaultZeroHoldingPenalty,
		Seed:                      42,
		RegistrationTimeout:       10 * time.Second,
		InactivityTimeout:         60 * time.Second,
		CompetitionTimeout:        240 * time.Second,
		PendingTransactionTimeout: 30 * time.Second,
	}
}

// Load overlays the file at path on Defaults. An empty path returns Defaults.
func Load(path string) (Game, error) {
	g := Defaults()
	if strings.TrimSpace(path) == "" {
		return g, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return g, err
	}
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return g, fmt.Errorf("game.yaml: %w", err)
	}
	if err := g.Validate(); err != nil {
		return g, fmt.Errorf("game.yaml: %w", err)
	}
	return g, nil
}

// Validate reports every problem at once.
func (g Game) Validate() error {
	var errs *multierror.Error
	if g.NbAgents <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("nb_agents must be positive, got %d", g.NbAgents))
	}
	if g.MinAgents < 0 || g.MinAgents > g.NbAgents {
		errs = multierror.Append(errs, fmt.Errorf("min_agents must be in [0, nb_agents], got %d", g.MinAgents))
	}
	if g.NbGoods <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("nb_goods must be positive, got %d", g.NbGoods))
	}
	if g.TxFee < 0 {
		errs = multierror.Append(errs, fmt.Errorf("tx_fee must be non-negative, got %d", g.TxFee))
	}
	if g.MoneyEndowment < 0 {
		errs = multierror.Append(errs, fmt.Errorf("money_endowment must be non-negative, got %d", g.MoneyEndowment))
	}
	if g.BaseGoodEndowment < 0 {
		errs = multierror.Append(errs, fmt.Errorf("base_good_endowment must be non-negative, got %d", g.BaseGoodEndowment))
	}
	if g.LowerBoundFactor < 0 || g.LowerBoundFactor > g.UpperBoundFactor {
		errs = multierror.Append(errs, fmt.Errorf("lower_bound_factor %v must be in [0, upper_bound_factor %v]", g.LowerBoundFactor, g.UpperBoundFactor))
	}
	if g.UtilityTotal <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("utility_total must be positive, got %v", g.UtilityTotal))
	}
	if g.ZeroHoldingPenalty > 0 {
		errs = multierror.Append(errs, fmt.Errorf("zero_holding_penalty must not be positive, got %v", g.ZeroHoldingPenalty))
	}
	for name, d := range map[string]time.Duration{
		"registration_timeout": g.RegistrationTimeout,
		"inactivity_timeout":   g.InactivityTimeout,
		"competition_timeout":  g.CompetitionTimeout,
	} {
		if d <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if g.PendingTransactionTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("pending_transaction_timeout must be non-negative, got %s", g.PendingTransactionTimeout))
	}
	return errs.ErrorOrNil()
}

func (g Game) Policy() genesis.Policy {
	return genesis.Policy{
		MoneyEndowment:    g.MoneyEndowment,
		BaseGoodEndowment: g.BaseGoodEndowment,
		LowerBoundFactor:  g.LowerBoundFactor,
		UpperBoundFactor:  g.UpperBoundFactor,
		UtilityTotal:      g.UtilityTotal,
		TxFee:             g.TxFee,
	}
}
