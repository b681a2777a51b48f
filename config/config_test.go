package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "billing.db", cfg.DBPath)
	assert.Equal(t, "@daily", cfg.SweepSchedule)
	assert.True(t, cfg.SweepEnabled())
	assert.False(t, cfg.Seed)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	// GIVEN: environment overrides
	t.Setenv("BILLING_PORT", "9000")
	t.Setenv("BILLING_DB", ":memory:")
	t.Setenv("BILLING_SEED", "true")
	t.Setenv("BILLING_CORS_ORIGINS", "https://a.example, https://b.example")

	// WHEN: a flag overrides the port again
	cfg, err := Load([]string{"-port", "9100", "-sweep-schedule", "0 6 * * *"})
	require.NoError(t, err)

	// THEN: flags win over env, env wins over defaults
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.True(t, cfg.Seed)
	assert.Equal(t, "0 6 * * *", cfg.SweepSchedule)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_SweepOff(t *testing.T) {
	cfg, err := Load([]string{"-sweep-schedule", "off"})
	require.NoError(t, err)
	assert.False(t, cfg.SweepEnabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "port out of range", args: []string{"-port", "70000"}, wantErr: "out of range"},
		{name: "empty db", args: []string{"-db", ""}, wantErr: "database path"},
		{name: "bad cron spec", args: []string{"-sweep-schedule", "every day"}, wantErr: "invalid sweep schedule"},
		{name: "bad log format", args: []string{"-log-format", "xml"}, wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
