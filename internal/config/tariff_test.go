package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticTariffConfigHolder(t *testing.T) {
	holder := NewStaticTariffConfigHolder(TariffConfig{
		RequireFullDay: true,
		HotStations:    []string{"st-1"},
	})
	cfg := holder.Get()
	assert.True(t, cfg.RequireFullDay)
	assert.Equal(t, []string{"st-1"}, cfg.HotStations)
}

func TestValidateTariffConfig(t *testing.T) {
	assert.NoError(t, validateTariffConfig(DefaultTariffConfig()))
	assert.Error(t, validateTariffConfig(TariffConfig{PreloadTimeoutSeconds: -1}))
	assert.Error(t, validateTariffConfig(TariffConfig{HotStations: []string{"  "}}))
}
