package rawrcache

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable read by LoadConfigFromEnv.
const EnvPrefix = "RAWRCACHE_"

// LoadConfigFromEnv builds a Config from RAWRCACHE_* environment variables,
// e.g. RAWRCACHE_POLICY=NETWORK_FIRST or RAWRCACHE_DEFAULT_TTL=10m. Unset
// variables keep the DefaultConfig values.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("rawrcache: parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
