// Package config loads and validates the risk configuration, and builds
// the ordered rule set from it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Jakers471/risk-manager/budget"
	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/rules"
)

// Config is the complete risk-manager configuration.
type Config struct {
	Account AccountConfig `json:"account" yaml:"account"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Reset   ResetConfig   `json:"reset" yaml:"reset"`
	Guard   GuardConfig   `json:"guard" yaml:"guard"`
	Rules   RulesConfig   `json:"rules" yaml:"rules"`
}

// AccountConfig names the account under management.
type AccountConfig struct {
	ID string `json:"id" yaml:"id"`
}

// StoreConfig locates the SQLite state database.
type StoreConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

// ResetConfig places the trading-day boundaries.
type ResetConfig struct {
	DailyAt        string   `json:"daily_at" yaml:"daily_at"` // "HH:MM"
	SessionStartAt string   `json:"session_start_at,omitempty" yaml:"session_start_at,omitempty"`
	TZ             string   `json:"tz" yaml:"tz"`
	Holidays       []string `json:"holidays,omitempty" yaml:"holidays,omitempty"` // "2006-01-02"
}

// GuardConfig tunes duplicate-enforcement suppression. Cooldowns maps
// action kinds to window overrides; durations are strings like "2s".
type GuardConfig struct {
	Cooldowns map[string]string `json:"cooldowns,omitempty" yaml:"cooldowns,omitempty"`
}

// RulesConfig holds one block per rule. A disabled rule never
// evaluates.
type RulesConfig struct {
	MaxContracts              LimitRule     `json:"max_contracts" yaml:"max_contracts"`
	MaxContractsPerInstrument LimitRule     `json:"max_contracts_per_instrument" yaml:"max_contracts_per_instrument"`
	RequireStopLoss           StopLossRule  `json:"require_stop_loss" yaml:"require_stop_loss"`
	MaxUnrealizedLoss         CoupledRule   `json:"max_unrealized_loss" yaml:"max_unrealized_loss"`
	MaxUnrealizedProfit       CoupledRule   `json:"max_unrealized_profit" yaml:"max_unrealized_profit"`
	TradingHours              HoursRule     `json:"trading_hours" yaml:"trading_hours"`
	RestrictedSymbols         SymbolsRule   `json:"restricted_symbols" yaml:"restricted_symbols"`
	TradeFrequency            FrequencyRule `json:"trade_frequency" yaml:"trade_frequency"`
	ConsecutiveLosses         StreakRule    `json:"consecutive_losses" yaml:"consecutive_losses"`
	CooldownAfterLoss         ThresholdRule `json:"cooldown_after_loss" yaml:"cooldown_after_loss"`
	DailyRealizedLoss         LimitRule     `json:"daily_realized_loss" yaml:"daily_realized_loss"`
	DailyProfitTarget         LimitRule     `json:"daily_profit_target" yaml:"daily_profit_target"`
	MaxDrawdown               LimitRule     `json:"max_drawdown" yaml:"max_drawdown"`
}

type LimitRule struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Limit   float64 `json:"limit" yaml:"limit"`
}

type StopLossRule struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Grace   string `json:"grace" yaml:"grace"` // e.g. "30s"
}

type CoupledRule struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Limit   float64 `json:"limit" yaml:"limit"`
	// CoupleDaily ties this limit to the matching daily rule's remaining
	// budget.
	CoupleDaily bool `json:"couple_daily" yaml:"couple_daily"`
}

type HoursRule struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Open           string `json:"open" yaml:"open"`   // "HH:MM"
	Close          string `json:"close" yaml:"close"` // "HH:MM"
	TZ             string `json:"tz" yaml:"tz"`
	FlattenOutside bool   `json:"flatten_outside" yaml:"flatten_outside"`
}

type SymbolsRule struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Symbols []string `json:"symbols" yaml:"symbols"`
}

type FrequencyRule struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	MaxTrades int    `json:"max_trades" yaml:"max_trades"`
	Window    string `json:"window" yaml:"window"`
	Cooldown  string `json:"cooldown" yaml:"cooldown"`
}

type StreakRule struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	MaxLosses int    `json:"max_losses" yaml:"max_losses"`
	Cooldown  string `json:"cooldown" yaml:"cooldown"`
}

type ThresholdRule struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Threshold float64 `json:"threshold" yaml:"threshold"` // positive magnitude
	Cooldown  string  `json:"cooldown" yaml:"cooldown"`
}

// LoadFromFile loads configuration from a file (YAML or JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration (YAML for .yaml/.yml, else JSON).
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if hasSuffix(path, ".yaml") || hasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: bad duration %q", field, s)
	}
	return d, nil
}

func parseClock(field, s string) (time.Duration, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("%s: bad time %q, want HH:MM", field, s)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// Validate checks the configuration. Any error here is fatal at
// startup: the engine refuses to run on a half-understood config.
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	if c.Reset.TZ == "" {
		return fmt.Errorf("reset.tz is required")
	}
	if _, err := time.LoadLocation(c.Reset.TZ); err != nil {
		return fmt.Errorf("reset.tz: unknown timezone %q", c.Reset.TZ)
	}
	if _, err := parseClock("reset.daily_at", c.Reset.DailyAt); err != nil {
		return err
	}
	if c.Reset.SessionStartAt != "" {
		if _, err := parseClock("reset.session_start_at", c.Reset.SessionStartAt); err != nil {
			return err
		}
	}
	for _, h := range c.Reset.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("reset.holidays: bad date %q", h)
		}
	}
	for kind, s := range c.Guard.Cooldowns {
		if _, err := parseDuration("guard.cooldowns."+kind, s); err != nil {
			return err
		}
	}

	r := &c.Rules
	if r.MaxContracts.Enabled && r.MaxContracts.Limit <= 0 {
		return fmt.Errorf("rules.max_contracts.limit must be positive")
	}
	if r.MaxContractsPerInstrument.Enabled && r.MaxContractsPerInstrument.Limit <= 0 {
		return fmt.Errorf("rules.max_contracts_per_instrument.limit must be positive")
	}
	if r.RequireStopLoss.Enabled {
		if _, err := parseDuration("rules.require_stop_loss.grace", r.RequireStopLoss.Grace); err != nil {
			return err
		}
	}
	if r.MaxUnrealizedLoss.Enabled && r.MaxUnrealizedLoss.Limit >= 0 {
		return fmt.Errorf("rules.max_unrealized_loss.limit must be negative")
	}
	if r.MaxUnrealizedProfit.Enabled && r.MaxUnrealizedProfit.Limit <= 0 {
		return fmt.Errorf("rules.max_unrealized_profit.limit must be positive")
	}
	if r.MaxUnrealizedLoss.CoupleDaily && !r.DailyRealizedLoss.Enabled {
		return fmt.Errorf("rules.max_unrealized_loss couples to a disabled daily_realized_loss")
	}
	if r.MaxUnrealizedProfit.CoupleDaily && !r.DailyProfitTarget.Enabled {
		return fmt.Errorf("rules.max_unrealized_profit couples to a disabled daily_profit_target")
	}
	if r.TradingHours.Enabled {
		if _, err := parseClock("rules.trading_hours.open", r.TradingHours.Open); err != nil {
			return err
		}
		if _, err := parseClock("rules.trading_hours.close", r.TradingHours.Close); err != nil {
			return err
		}
		tz := r.TradingHours.TZ
		if tz == "" {
			return fmt.Errorf("rules.trading_hours.tz is required")
		}
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("rules.trading_hours.tz: unknown timezone %q", tz)
		}
	}
	if r.RestrictedSymbols.Enabled && len(r.RestrictedSymbols.Symbols) == 0 {
		return fmt.Errorf("rules.restricted_symbols.symbols must not be empty")
	}
	if r.TradeFrequency.Enabled {
		if r.TradeFrequency.MaxTrades <= 0 {
			return fmt.Errorf("rules.trade_frequency.max_trades must be positive")
		}
		if _, err := parseDuration("rules.trade_frequency.window", r.TradeFrequency.Window); err != nil {
			return err
		}
		if _, err := parseDuration("rules.trade_frequency.cooldown", r.TradeFrequency.Cooldown); err != nil {
			return err
		}
	}
	if r.ConsecutiveLosses.Enabled {
		if r.ConsecutiveLosses.MaxLosses <= 0 {
			return fmt.Errorf("rules.consecutive_losses.max_losses must be positive")
		}
		if _, err := parseDuration("rules.consecutive_losses.cooldown", r.ConsecutiveLosses.Cooldown); err != nil {
			return err
		}
	}
	if r.CooldownAfterLoss.Enabled {
		if r.CooldownAfterLoss.Threshold <= 0 {
			return fmt.Errorf("rules.cooldown_after_loss.threshold must be positive")
		}
		if _, err := parseDuration("rules.cooldown_after_loss.cooldown", r.CooldownAfterLoss.Cooldown); err != nil {
			return err
		}
	}
	if r.DailyRealizedLoss.Enabled && r.DailyRealizedLoss.Limit >= 0 {
		return fmt.Errorf("rules.daily_realized_loss.limit must be negative")
	}
	if r.DailyProfitTarget.Enabled && r.DailyProfitTarget.Limit <= 0 {
		return fmt.Errorf("rules.daily_profit_target.limit must be positive")
	}
	if r.MaxDrawdown.Enabled && r.MaxDrawdown.Limit <= 0 {
		return fmt.Errorf("rules.max_drawdown.limit must be positive")
	}
	return nil
}

// BuildRules constructs the enabled rules in evaluation order:
// trade-by-trade exposure management first, then the soft-lockout
// pattern rules, then the hard daily limits.
func (c *Config) BuildRules() ([]rules.Rule, error) {
	r := &c.Rules
	var out []rules.Rule

	if r.MaxContracts.Enabled {
		out = append(out, &rules.MaxContracts{Limit: r.MaxContracts.Limit})
	}
	if r.MaxContractsPerInstrument.Enabled {
		out = append(out, &rules.MaxContractsPerInstrument{Limit: r.MaxContractsPerInstrument.Limit})
	}
	if r.RequireStopLoss.Enabled {
		grace, err := parseDuration("rules.require_stop_loss.grace", r.RequireStopLoss.Grace)
		if err != nil {
			return nil, err
		}
		out = append(out, &rules.RequireStopLoss{Grace: grace})
	}
	if r.MaxUnrealizedLoss.Enabled {
		out = append(out, &rules.MaxUnrealizedLoss{Limit: r.MaxUnrealizedLoss.Limit})
	}
	if r.MaxUnrealizedProfit.Enabled {
		out = append(out, &rules.MaxUnrealizedProfit{Limit: r.MaxUnrealizedProfit.Limit})
	}
	if r.TradingHours.Enabled {
		open, err := parseClock("rules.trading_hours.open", r.TradingHours.Open)
		if err != nil {
			return nil, err
		}
		end, err := parseClock("rules.trading_hours.close", r.TradingHours.Close)
		if err != nil {
			return nil, err
		}
		loc, err := time.LoadLocation(r.TradingHours.TZ)
		if err != nil {
			return nil, fmt.Errorf("rules.trading_hours.tz: %w", err)
		}
		out = append(out, &rules.TradingHours{
			Open: open, Close: end, Loc: loc,
			FlattenOutside: r.TradingHours.FlattenOutside,
		})
	}
	if r.RestrictedSymbols.Enabled {
		syms := make(map[string]bool, len(r.RestrictedSymbols.Symbols))
		for _, s := range r.RestrictedSymbols.Symbols {
			syms[s] = true
		}
		out = append(out, &rules.RestrictedSymbols{Symbols: syms})
	}
	if r.TradeFrequency.Enabled {
		window, err := parseDuration("rules.trade_frequency.window", r.TradeFrequency.Window)
		if err != nil {
			return nil, err
		}
		cooldown, err := parseDuration("rules.trade_frequency.cooldown", r.TradeFrequency.Cooldown)
		if err != nil {
			return nil, err
		}
		out = append(out, &rules.TradeFrequency{
			MaxTrades: r.TradeFrequency.MaxTrades, Window: window, Cooldown: cooldown,
		})
	}
	if r.ConsecutiveLosses.Enabled {
		cooldown, err := parseDuration("rules.consecutive_losses.cooldown", r.ConsecutiveLosses.Cooldown)
		if err != nil {
			return nil, err
		}
		out = append(out, &rules.ConsecutiveLosses{
			MaxLosses: r.ConsecutiveLosses.MaxLosses, Cooldown: cooldown,
		})
	}
	if r.CooldownAfterLoss.Enabled {
		cooldown, err := parseDuration("rules.cooldown_after_loss.cooldown", r.CooldownAfterLoss.Cooldown)
		if err != nil {
			return nil, err
		}
		out = append(out, &rules.CooldownAfterLoss{
			Threshold: r.CooldownAfterLoss.Threshold, Cooldown: cooldown,
		})
	}
	if r.DailyRealizedLoss.Enabled {
		out = append(out, &rules.DailyRealizedLoss{Limit: r.DailyRealizedLoss.Limit})
	}
	if r.DailyProfitTarget.Enabled {
		out = append(out, &rules.DailyProfitTarget{Target: r.DailyProfitTarget.Limit})
	}
	if r.MaxDrawdown.Enabled {
		out = append(out, &rules.MaxDrawdown{Limit: r.MaxDrawdown.Limit})
	}
	return out, nil
}

// ApplyBudget registers limits and couplings on the composite tracker.
func (c *Config) ApplyBudget(t *budget.Tracker) {
	r := &c.Rules
	t.SetLimit("max_unrealized_loss", r.MaxUnrealizedLoss.Limit, r.MaxUnrealizedLoss.Enabled)
	t.SetLimit("max_unrealized_profit", r.MaxUnrealizedProfit.Limit, r.MaxUnrealizedProfit.Enabled)
	t.SetLimit("daily_realized_loss", r.DailyRealizedLoss.Limit, r.DailyRealizedLoss.Enabled)
	t.SetLimit("daily_profit_target", r.DailyProfitTarget.Limit, r.DailyProfitTarget.Enabled)

	if r.MaxUnrealizedLoss.CoupleDaily {
		t.Couple(budget.Coupling{
			UnrealizedRule: "max_unrealized_loss",
			RealizedRule:   "daily_realized_loss",
		})
	}
	if r.MaxUnrealizedProfit.CoupleDaily {
		t.Couple(budget.Coupling{
			UnrealizedRule: "max_unrealized_profit",
			RealizedRule:   "daily_profit_target",
		})
	}
}

// GuardCooldowns converts the configured guard overrides.
func (c *Config) GuardCooldowns() (map[domain.ActionKind]time.Duration, error) {
	if len(c.Guard.Cooldowns) == 0 {
		return nil, nil
	}
	out := make(map[domain.ActionKind]time.Duration, len(c.Guard.Cooldowns))
	for kind, s := range c.Guard.Cooldowns {
		d, err := parseDuration("guard.cooldowns."+kind, s)
		if err != nil {
			return nil, err
		}
		out[domain.ActionKind(kind)] = d
	}
	return out, nil
}

// Default returns a configuration with conservative defaults for a
// small evaluation account.
func Default() *Config {
	return &Config{
		Account: AccountConfig{ID: "SIM-001"},
		Store:   StoreConfig{DBPath: "./risk.db"},
		Reset: ResetConfig{
			DailyAt: "17:00",
			TZ:      "America/Chicago",
		},
		Rules: RulesConfig{
			MaxContracts:              LimitRule{Enabled: true, Limit: 5},
			MaxContractsPerInstrument: LimitRule{Enabled: true, Limit: 3},
			RequireStopLoss:           StopLossRule{Enabled: true, Grace: "30s"},
			MaxUnrealizedLoss:         CoupledRule{Enabled: true, Limit: -200, CoupleDaily: true},
			MaxUnrealizedProfit:       CoupledRule{Enabled: false, Limit: 400},
			TradingHours: HoursRule{
				Enabled: true, Open: "08:30", Close: "15:00",
				TZ: "America/Chicago", FlattenOutside: true,
			},
			RestrictedSymbols: SymbolsRule{Enabled: false},
			TradeFrequency: FrequencyRule{
				Enabled: true, MaxTrades: 3, Window: "1m", Cooldown: "1m",
			},
			ConsecutiveLosses: StreakRule{Enabled: true, MaxLosses: 3, Cooldown: "5m"},
			CooldownAfterLoss: ThresholdRule{Enabled: true, Threshold: 300, Cooldown: "10m"},
			DailyRealizedLoss: LimitRule{Enabled: true, Limit: -900},
			DailyProfitTarget: LimitRule{Enabled: true, Limit: 1500},
			MaxDrawdown:       LimitRule{Enabled: true, Limit: 2000},
		},
	}
}
