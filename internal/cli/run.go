package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Jakers471/risk-manager/gateway/sim"
	"github.com/Jakers471/risk-manager/replay"
	"github.com/Jakers471/risk-manager/store"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		eventsPath string
		quoteRate  float64
		from       string
		to         string
		metricsAt  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the enforcement engine over a recorded event log",
		Long: `Run drives the engine from a CSV event log through the simulated
gateway, enforcing the configured rules and persisting state exactly as
a live session would. Wire a broker gateway in place of the simulator
for live enforcement.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			fromT, toT, err := parseRange(from, to)
			if err != nil {
				return err
			}

			db, err := store.NewSQLite(cfg.Store.DBPath)
			if err != nil {
				return fmt.Errorf("open state db: %w", err)
			}
			defer db.Close()

			log := slog.Default()
			gw := sim.New(log)
			eng, err := buildStack(cfg, db, gw, log)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if metricsAt != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				srv := &http.Server{Addr: metricsAt, Handler: mux}
				go srv.ListenAndServe()
				defer srv.Close()
			}

			go eng.Run(ctx)

			feed, err := replay.NewFeed(eventsPath, fromT, toT)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer feed.Close()

			runner := replay.NewRunner(feed, eng, quoteRate, log)
			if err := runner.Run(ctx); err != nil {
				return err
			}

			// Let dispatched enforcement land before summarizing.
			eng.Executor().Wait()
			printSessionSummary(cmd, db, cfg.Account.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventsPath, "events", "", "CSV event log to replay (required)")
	cmd.Flags().Float64Var(&quoteRate, "quote-rate", 0, "Max quote updates per second (0 = unthrottled)")
	cmd.Flags().StringVar(&from, "from", "", "Only replay events at or after this RFC3339 time")
	cmd.Flags().StringVar(&to, "to", "", "Only replay events before this RFC3339 time")
	cmd.Flags().StringVar(&metricsAt, "metrics", "", "Serve Prometheus metrics at this address (e.g. :9090)")
	cmd.MarkFlagRequired("events")
	return cmd
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var fromT, toT time.Time
	var err error
	if from != "" {
		if fromT, err = time.Parse(time.RFC3339, from); err != nil {
			return fromT, toT, fmt.Errorf("bad --from: %w", err)
		}
	}
	if to != "" {
		if toT, err = time.Parse(time.RFC3339, to); err != nil {
			return fromT, toT, fmt.Errorf("bad --to: %w", err)
		}
	}
	return fromT, toT, nil
}

func printSessionSummary(cmd *cobra.Command, db *store.SQLite, accountID string) {
	day, ok, err := db.Day(accountID)
	if err == nil && ok {
		cmd.Printf("day %s  realized %.2f  trades %d\n", day.Day, day.RealizedPnL, day.TradeCount)
	}
	recs, err := db.RecentEnforcements(accountID, 10)
	if err != nil || len(recs) == 0 {
		return
	}
	cmd.Println("recent enforcements:")
	for _, r := range recs {
		cmd.Printf("  %s  %-22s %-16s %-10s %s\n",
			r.Time.Format(time.RFC3339), r.Rule, r.Action, r.Status, r.Target)
	}
}
