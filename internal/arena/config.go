package arena

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds server-level options read from arena.yaml.
type Config struct {
	// MaxGames caps games that have not finished yet. 0 means unlimited.
	MaxGames int `yaml:"max_games"`
	// GameConfig is the game.yaml used for games created without an
	// explicit configuration.
	GameConfig string `yaml:"game_config"`
	// DefaultGame creates one game at startup and whenever the current
	// default game finishes.
	DefaultGame bool `yaml:"default_game"`
	// ArchiveOnDelete copies report and events into <data>/archives before
	// a deleted game's directory is removed.
	ArchiveOnDelete bool   `yaml:"archive_on_delete"`
	IndexDB         string `yaml:"index_db"`
	GamesDir        string `yaml:"games_dir"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("arena.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("arena.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		MaxGames:        16,
		DefaultGame:     true,
		ArchiveOnDelete: true,
		IndexDB:         "index/tac.sqlite",
		GamesDir:        "games",
	}
}

func (c *Config) Normalize() {
	c.GameConfig = strings.TrimSpace(c.GameConfig)
	c.IndexDB = strings.TrimSpace(c.IndexDB)
	c.GamesDir = strings.TrimSpace(c.GamesDir)
	if c.GamesDir == "" {
		c.GamesDir = "games"
	}
}

func (c Config) Validate() error {
	if c.MaxGames < 0 {
		return fmt.Errorf("max_games must be >= 0")
	}
	if strings.Contains(c.GamesDir, "..") {
		return fmt.Errorf("games_dir must not escape the data dir")
	}
	return nil
}
