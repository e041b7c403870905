package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TariffConfig carries operator-tunable tariff policy. It is hot-reloadable
// so that billing policy changes do not require a rolling restart.
type TariffConfig struct {
	// RequireFullDay rejects segment sets that leave uncovered gaps in the
	// 24h day at plan-save time.
	RequireFullDay bool `mapstructure:"requireFullDay"`
	// HotStations is the station list warmed by the preloader on startup.
	HotStations []string `mapstructure:"hotStations"`
	// PreloadTimeoutSeconds bounds the total preload pass.
	PreloadTimeoutSeconds int `mapstructure:"preloadTimeoutSeconds"`
}

func DefaultTariffConfig() TariffConfig {
	return TariffConfig{
		RequireFullDay:        true,
		HotStations:           nil,
		PreloadTimeoutSeconds: 30,
	}
}

// TariffConfigHolder exposes the current TariffConfig and swaps it
// atomically when the backing file changes.
type TariffConfigHolder struct {
	current atomic.Value // holds TariffConfig
}

func NewTariffConfigHolder() (*TariffConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("tariff")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/evcs/config")
	v.AddConfigPath("/etc/evcs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EVCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultTariffConfig()
		v.SetDefault("tariff.requireFullDay", defaults.RequireFullDay)
		v.SetDefault("tariff.hotStations", defaults.HotStations)
		v.SetDefault("tariff.preloadTimeoutSeconds", defaults.PreloadTimeoutSeconds)
	}

	var cfg TariffConfig
	if err := v.UnmarshalKey("tariff", &cfg); err != nil {
		return nil, err
	}
	if err := validateTariffConfig(cfg); err != nil {
		return nil, err
	}

	holder := &TariffConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TariffConfig
		if err := v.UnmarshalKey("tariff", &updated); err != nil {
			log.Printf("[tariff-config] reload failed: %v", err)
			return
		}
		if err := validateTariffConfig(updated); err != nil {
			log.Printf("[tariff-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[tariff-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *TariffConfigHolder) Get() TariffConfig {
	return h.current.Load().(TariffConfig)
}

// NewStaticTariffConfigHolder returns a holder pinned to the given config,
// with no file watching. Intended for tests and tooling.
func NewStaticTariffConfigHolder(cfg TariffConfig) *TariffConfigHolder {
	holder := &TariffConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateTariffConfig(cfg TariffConfig) error {
	if cfg.PreloadTimeoutSeconds < 0 {
		return errors.New("tariff.preloadTimeoutSeconds cannot be negative")
	}
	for _, station := range cfg.HotStations {
		if strings.TrimSpace(station) == "" {
			return errors.New("tariff.hotStations cannot contain blank entries")
		}
	}
	return nil
}
