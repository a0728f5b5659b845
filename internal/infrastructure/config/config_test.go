package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "clinic-billing", cfg.App.Name)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.True(t, cfg.Billing.TaxRate.IsZero())
	assert.Equal(t, 30, cfg.Billing.DueDays)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CLINIC_DATABASE_HOST", "db.internal")
	t.Setenv("CLINIC_BILLING_TAX_RATE", "0.15")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.True(t, cfg.Billing.TaxRate.Equal(decimal.NewFromFloat(0.15)))
}

func TestValidate(t *testing.T) {
	t.Run("production requires jwt secret", func(t *testing.T) {
		cfg := &Config{}
		cfg.App.Env = "production"
		cfg.Gateway.MaxRetries = 1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt.secret")
	})

	t.Run("negative tax rate rejected", func(t *testing.T) {
		cfg := &Config{}
		cfg.Gateway.MaxRetries = 1
		cfg.Billing.TaxRate = decimal.NewFromFloat(-0.1)
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tax_rate")
	})
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "clinic",
		Password: "p@ss/word",
		DBName:   "clinic",
		SSLMode:  "disable",
	}
	dsn := d.DSN()
	assert.Contains(t, dsn, "postgres://")
	assert.Contains(t, dsn, "localhost:5432")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.NotContains(t, dsn, "p@ss/word")
}
