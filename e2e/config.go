package e2e

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// E2E_POLL_PERIOD is the poll period of every room in the scenarios
	PollPeriod time.Duration `envconfig:"E2E_POLL_PERIOD" default:"20ms"`
	// E2E_WAIT bounds every eventually-style assertion
	Wait time.Duration `envconfig:"E2E_WAIT" default:"3s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
