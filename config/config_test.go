package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jakers471/risk-manager/budget"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Default().Validate())
}

func TestLoadFromFileYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, Default().SaveToFile(path))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SIM-001", cfg.Account.ID)
	assert.Equal(t, "17:00", cfg.Reset.DailyAt)
	assert.True(t, cfg.Rules.MaxUnrealizedLoss.CoupleDaily)
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Rules.DailyRealizedLoss.Limit = 900 // must be negative
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, mustYAML(t, cfg), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_realized_loss")
}

func mustYAML(t *testing.T, cfg *Config) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tmp.yaml")
	require.NoError(t, cfg.SaveToFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing account id",
			mutate:  func(c *Config) { c.Account.ID = "" },
			wantErr: "account.id",
		},
		{
			name:    "missing db path",
			mutate:  func(c *Config) { c.Store.DBPath = "" },
			wantErr: "store.db_path",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Reset.TZ = "Mars/Olympus" },
			wantErr: "reset.tz",
		},
		{
			name:    "bad reset time",
			mutate:  func(c *Config) { c.Reset.DailyAt = "25:00" },
			wantErr: "reset.daily_at",
		},
		{
			name:    "bad holiday",
			mutate:  func(c *Config) { c.Reset.Holidays = []string{"July 4th"} },
			wantErr: "holidays",
		},
		{
			name:    "bad guard cooldown",
			mutate:  func(c *Config) { c.Guard.Cooldowns = map[string]string{"flatten": "soon"} },
			wantErr: "guard.cooldowns.flatten",
		},
		{
			name:    "unrealized loss positive",
			mutate:  func(c *Config) { c.Rules.MaxUnrealizedLoss.Limit = 200 },
			wantErr: "max_unrealized_loss",
		},
		{
			name: "coupling to disabled daily rule",
			mutate: func(c *Config) {
				c.Rules.DailyRealizedLoss.Enabled = false
			},
			wantErr: "couples to a disabled",
		},
		{
			name: "frequency without window",
			mutate: func(c *Config) {
				c.Rules.TradeFrequency.Window = ""
			},
			wantErr: "trade_frequency.window",
		},
		{
			name: "restricted symbols empty",
			mutate: func(c *Config) {
				c.Rules.RestrictedSymbols.Enabled = true
				c.Rules.RestrictedSymbols.Symbols = nil
			},
			wantErr: "restricted_symbols",
		},
		{
			name: "drawdown not positive",
			mutate: func(c *Config) {
				c.Rules.MaxDrawdown.Limit = -100
			},
			wantErr: "max_drawdown",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildRulesOrder(t *testing.T) {
	t.Parallel()

	cfg := Default()
	built, err := cfg.BuildRules()
	require.NoError(t, err)

	var names []string
	for _, r := range built {
		names = append(names, r.Name())
	}
	// Trade-by-trade first, then pattern rules, then the daily limits.
	assert.Equal(t, []string{
		"max_contracts",
		"max_contracts_per_instrument",
		"require_stop_loss",
		"max_unrealized_loss",
		"trading_hours",
		"trade_frequency",
		"consecutive_losses",
		"cooldown_after_loss",
		"daily_realized_loss",
		"daily_profit_target",
		"max_drawdown",
	}, names)
}

func TestBuildRulesSkipsDisabled(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Rules.TradeFrequency.Enabled = false
	built, err := cfg.BuildRules()
	require.NoError(t, err)
	for _, r := range built {
		assert.NotEqual(t, "trade_frequency", r.Name())
	}
}

type fixedRealized float64

func (f fixedRealized) RealizedPnL(string) float64 { return float64(f) }

func TestApplyBudgetCouples(t *testing.T) {
	t.Parallel()

	cfg := Default() // loss -200 coupled to daily -900
	tr := budget.NewTracker(fixedRealized(-800))
	cfg.ApplyBudget(tr)

	// Only 100 of realized budget remains, tighter than the static -200.
	assert.InDelta(t, -100, tr.EffectiveLimit("max_unrealized_loss", "acct1", -200), 1e-9)
}

func TestGuardCooldowns(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Guard.Cooldowns = map[string]string{"flatten": "5s"}
	overrides, err := cfg.GuardCooldowns()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, overrides["flatten"])
}
