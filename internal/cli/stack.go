package cli

import (
	"fmt"
	"log/slog"

	"github.com/Jakers471/risk-manager/config"
	"github.com/Jakers471/risk-manager/engine"
	"github.com/Jakers471/risk-manager/gateway"
	"github.com/Jakers471/risk-manager/lockout"
	"github.com/Jakers471/risk-manager/schedule"
	"github.com/Jakers471/risk-manager/store"
	"github.com/Jakers471/risk-manager/timer"
)

// loadConfig resolves the effective configuration: file if given, else
// defaults, with the --db flag overriding the store path.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFromFile(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if opts.DBPath != "" {
		cfg.Store.DBPath = opts.DBPath
	}
	return cfg, nil
}

// buildStack assembles the full engine over an open store and gateway.
func buildStack(cfg *config.Config, db *store.SQLite, gw gateway.Gateway, log *slog.Logger) (*engine.Engine, error) {
	ruleSet, err := cfg.BuildRules()
	if err != nil {
		return nil, err
	}
	guardCooldowns, err := cfg.GuardCooldowns()
	if err != nil {
		return nil, err
	}

	timers := timer.NewManager()
	sched := schedule.NewScheduler()
	locks := lockout.NewManager(db, timers, log)

	eng, err := engine.New(engine.Options{
		Store:          db,
		Gateway:        gw,
		Lockouts:       locks,
		Timers:         timers,
		Scheduler:      sched,
		Rules:          ruleSet,
		GuardCooldowns: guardCooldowns,
		ResetAt:        cfg.Reset.DailyAt,
		ResetTZ:        cfg.Reset.TZ,
		Log:            log,
	})
	if err != nil {
		return nil, err
	}
	cfg.ApplyBudget(eng.Budget())

	if err := eng.AddSchedule(schedule.Schedule{
		Name:     "daily_reset",
		Kind:     schedule.Daily,
		At:       cfg.Reset.DailyAt,
		TZ:       cfg.Reset.TZ,
		Holidays: cfg.Reset.Holidays,
	}); err != nil {
		return nil, fmt.Errorf("register daily reset: %w", err)
	}
	if cfg.Reset.SessionStartAt != "" {
		if err := eng.AddSchedule(schedule.Schedule{
			Name:     "session_start",
			Kind:     schedule.SessionStart,
			At:       cfg.Reset.SessionStartAt,
			TZ:       cfg.Reset.TZ,
			Holidays: cfg.Reset.Holidays,
		}); err != nil {
			return nil, fmt.Errorf("register session start: %w", err)
		}
	}

	if err := eng.Restore(cfg.Account.ID); err != nil {
		return nil, fmt.Errorf("restore account state: %w", err)
	}
	return eng, nil
}
