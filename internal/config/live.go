package config

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Runtime is the admin-tunable subset of configuration read on every
// pipeline call and evaluation cycle.
type Runtime struct {
	PollingInterval   time.Duration
	CacheGrace        time.Duration
	FailureSimulation bool
	OperatingHours    OperatingHoursConfig
	Cooldown          time.Duration
	RearmPct          float64
}

// Live publishes the current Runtime snapshot.
type Live struct {
	current atomic.Pointer[Runtime]
}

// NewLive seeds a Live holder.
func NewLive(rt Runtime) *Live {
	l := &Live{}
	l.Store(rt)
	return l
}

// Load returns the current snapshot.
func (l *Live) Load() Runtime {
	return *l.current.Load()
}

// Store replaces the snapshot.
func (l *Live) Store(rt Runtime) {
	l.current.Store(&rt)
}

// LoadLive loads configuration and keeps the returned Live in sync with the
// config file. Reloads that fail validation are logged and ignored.
func LoadLive(path string, logger zerolog.Logger) (*Config, *Live, error) {
	cfg, v, err := load(path)
	if err != nil {
		return nil, nil, err
	}

	live := NewLive(cfg.Runtime())
	if v.ConfigFileUsed() == "" {
		return cfg, live, nil
	}

	log := logger.With().Str("component", "config").Logger()
	v.OnConfigChange(func(e fsnotify.Event) {
		reloaded, err := decode(v)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid config reload")
			return
		}
		live.Store(reloaded.Runtime())
		log.Info().Str("file", e.Name).
			Dur("polling_interval", reloaded.Quotes.PollingInterval).
			Bool("failure_simulation", reloaded.Quotes.FailureSimulation).
			Msg("runtime settings reloaded")
	})
	v.WatchConfig()

	return cfg, live, nil
}
