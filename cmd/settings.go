package cmd

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// Settings are process options read from the environment. Flags given on the
// command line take precedence.
type Settings struct {
	LogLevel   string `env:"POPSIM_LOG_LEVEL" envDefault:"warn"`
	DBPath     string `env:"POPSIM_DB_PATH"`
	Workers    int    `env:"POPSIM_WORKERS" envDefault:"0"`
	ListenAddr string `env:"POPSIM_LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
}

// LoadSettings parses Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	if s.Workers < 0 {
		return Settings{}, fmt.Errorf("POPSIM_WORKERS must be non-negative, got %d", s.Workers)
	}
	return s, nil
}

// applyFlags overrides s with every persistent flag set explicitly on cmd.
func (s *Settings) applyFlags(cmd *cobra.Command, o *cliOptions) {
	flags := cmd.Flags()
	if flags.Changed("log") {
		s.LogLevel = o.logLevel
	}
	if flags.Changed("db") {
		s.DBPath = o.dbPath
	}
	if flags.Changed("workers") {
		s.Workers = o.workers
	}
	if flags.Changed("listen") {
		s.ListenAddr = o.listenAddr
	}
}
