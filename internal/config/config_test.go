package config

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Depository.BaseToken = "0x00000000000000000000000000000000000000b0"
	cfg.Depository.Treasury = "0x00000000000000000000000000000000000000e0"
	cfg.Depository.Administrator = "0x00000000000000000000000000000000000000ad"
	cfg.Tokens = []TokenConfig{
		{
			Address:  "0x00000000000000000000000000000000000000b0",
			Symbol:   "BASE",
			Decimals: 9,
			Supply:   "1000000000000000",
			Reserve:  "0x00000000000000000000000000000000000000d0",
		},
	}
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsDefaults(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_token")
	assert.Contains(t, err.Error(), "treasury")
}

func TestValidateFeeNeedsRecipient(t *testing.T) {
	cfg := validConfig()
	cfg.Depository.FeeBps = 500
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee_recipient")
}

func TestValidateBaseTokenMustBeDeclared(t *testing.T) {
	cfg := validConfig()
	cfg.Tokens = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}

func TestDurationDecodesFromTOML(t *testing.T) {
	var cfg Config
	_, err := toml.Decode(`
mode = "server"
[archive]
enabled = true
interval = "15m"
`, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Archive.Interval.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BONDDEPOT_MODE", "monitor")
	t.Setenv("BONDDEPOT_POSTGRES_PORT", "5433")
	t.Setenv("BONDDEPOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "k-123"
	cfg.S3.SecretKey = "s3cret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "hunter2", cfg.Postgres.Password, "original untouched")
}
