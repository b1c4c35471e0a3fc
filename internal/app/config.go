package app

import (
	"github.com/m3rciful/relaybot/core/cmd"
	coreconfig "github.com/m3rciful/relaybot/core/config"
)

// Config carries the bot configuration through the runner.
type Config struct {
	Core *coreconfig.Config
}

// CoreConfig implements cmd.ConfigCarrier.
func (c *Config) CoreConfig() *coreconfig.Config { return c.Core }

// LoadConfig reads and validates the configuration at path.
func LoadConfig(path string) (cmd.ConfigCarrier, error) {
	core, err := coreconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return &Config{Core: core}, nil
}
