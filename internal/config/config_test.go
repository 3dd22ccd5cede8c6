package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	// This default is load-bearing: it gates whether the matching engine
	// ever attempts a fill at all.
	assert.Equal(t, 1.0, cfg.Execution.PartialFillProbability)
	assert.Equal(t, 0.0, cfg.Execution.RejectionProbability)
	assert.True(t, cfg.Execution.EnablePartialFills)
	assert.True(t, cfg.Execution.AllowShorting)
	assert.False(t, cfg.Execution.EnforceMarketHours)
	assert.Equal(t, 570, cfg.Execution.RegularStartMinutes)
	assert.Equal(t, 960, cfg.Execution.RegularEndMinutes)
	assert.Contains(t, cfg.Execution.MarketHolidays, "12-25")
	assert.Equal(t, 27.80, cfg.Fees.SECRate)
	assert.Equal(t, 0.000166, cfg.Fees.TAFRate)
	assert.Equal(t, 8.30, cfg.Fees.TAFCap)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MARKETSIM_EXECUTION_REJECTION_PROBABILITY", "0.5")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Execution.RejectionProbability)
}

func TestLoad_EmptyPathIsNotError(t *testing.T) {
	_, err := Load("")
	assert.NoError(t, err)
}
