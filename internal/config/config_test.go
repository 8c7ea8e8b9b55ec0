package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	load := DefaultLoad()
	require.NoError(t, load.Validate())
	assert.Equal(t, 10*time.Second, load.MinInterval)
	assert.Equal(t, time.UTC, load.Location)
	assert.Equal(t, 1, load.ValueColumn)

	an := DefaultAnalysis()
	require.NoError(t, an.Validate())
	assert.True(t, an.AssumeNormal)
	assert.Equal(t, 1e-4, an.PlateauTolerance)

	lag := DefaultLag()
	require.NoError(t, lag.Validate())
	assert.Equal(t, 7, lag.MeasureHour)
	assert.Equal(t, 360, lag.MaxLagHours)
	assert.Len(t, lag.Variables, 10)
}

func TestDefaultLag_CopiesVariables(t *testing.T) {
	lag := DefaultLag()
	lag.Variables[0] = "changed"
	assert.Equal(t, "Outdoor Tem(°C)", DefaultWeatherVariables[0])
}

func TestLoad_Validate(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name    string
		mutate  func(*Load)
		wantErr string
	}{
		{"valid range", func(c *Load) { c.Start, c.End = day(1), day(3) }, ""},
		{"single day", func(c *Load) { c.Start, c.End = day(2), day(2) }, ""},
		{"end before start", func(c *Load) { c.Start, c.End = day(3), day(1) }, "before start"},
		{"missing location", func(c *Load) { c.Location = nil }, "location"},
		{"negative interval", func(c *Load) { c.MinInterval = -time.Second }, "min interval"},
		{"negative column", func(c *Load) { c.ValueColumn = -1 }, "column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLoad()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAnalysis_Validate(t *testing.T) {
	cfg := DefaultAnalysis()
	cfg.PlateauTolerance = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultAnalysis()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg.Parallel = false
	assert.NoError(t, cfg.Validate())
}

func TestLag_Validate(t *testing.T) {
	cfg := DefaultLag()
	cfg.MeasureHour = 24
	assert.ErrorContains(t, cfg.Validate(), "measure hour")

	cfg = DefaultLag()
	cfg.MaxLagHours = 0
	assert.ErrorContains(t, cfg.Validate(), "max lag")

	cfg = DefaultLag()
	cfg.Variables = nil
	assert.ErrorContains(t, cfg.Validate(), "weather variable")
}

func TestFetch_Validate(t *testing.T) {
	cfg := DefaultFetch()
	assert.ErrorContains(t, cfg.Validate(), "host")

	cfg.Host = "logger.local:21"
	cfg.RemotePath = "/home/pi/measurements.csv"
	cfg.LocalPath = "data/measurements.csv"
	assert.NoError(t, cfg.Validate())

	cfg.Timeout = 0
	assert.ErrorContains(t, cfg.Validate(), "timeout")
}

func TestNarrate_Validate(t *testing.T) {
	cfg := DefaultNarrate()
	assert.ErrorContains(t, cfg.Validate(), "API key")

	cfg.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())

	cfg.Days = 0
	assert.Error(t, cfg.Validate())
}
