package manager

import (
	"errors"

	"cachefront/pkg/cache/local"
)

// DefaultChannel is the pub/sub channel used for invalidation broadcasts
// when none is configured.
const DefaultChannel = "cache:invalidations"

// RemoteConfig controls the shared remote tier.
type RemoteConfig struct {
	// Enabled turns the remote tier on. A store must be supplied with
	// WithRemote when enabled.
	Enabled bool
}

// InvalidationConfig controls cross-process invalidation broadcasts.
type InvalidationConfig struct {
	// Enabled turns broadcast publishing and the listener on.
	// Requires the remote tier.
	Enabled bool

	// Channel is the pub/sub channel name (default: DefaultChannel)
	Channel string
}

// MonitoringConfig controls metrics emission.
type MonitoringConfig struct {
	// Enabled turns metric recording on. When off the manager uses a
	// no-op collector even if one was supplied.
	Enabled bool
}

// Config configures a Manager.
type Config struct {
	// Local configures the in-process tier
	Local local.Config

	// Remote configures the shared tier
	Remote RemoteConfig

	// Invalidation configures cross-process purge broadcasts
	Invalidation InvalidationConfig

	// Monitoring configures metrics emission
	Monitoring MonitoringConfig

	// Coalesce collapses concurrent misses on the same key into one
	// factory call during GetOrSet.
	Coalesce bool
}

// DefaultConfig returns a config with every feature enabled:
// remote tier, invalidation broadcasts, monitoring and miss coalescing.
func DefaultConfig() Config {
	return Config{
		Local:        local.DefaultConfig(),
		Remote:       RemoteConfig{Enabled: true},
		Invalidation: InvalidationConfig{Enabled: true, Channel: DefaultChannel},
		Monitoring:   MonitoringConfig{Enabled: true},
		Coalesce:     true,
	}
}

// Validate checks the config for contradictions.
func (c Config) Validate() error {
	if err := c.Local.TTL.Validate(); err != nil {
		return err
	}
	if c.Invalidation.Enabled && !c.Remote.Enabled {
		return errors.New("manager: invalidation broadcasts require the remote tier")
	}
	return nil
}
