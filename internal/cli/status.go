package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jakers471/risk-manager/store"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show lockout state, the day's P&L, and recent enforcements",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, err := store.NewSQLite(cfg.Store.DBPath)
			if err != nil {
				return fmt.Errorf("open state db: %w", err)
			}
			defer db.Close()

			accountID := cfg.Account.ID
			cmd.Printf("account %s\n", accountID)

			locks, err := db.Lockouts(accountID)
			if err != nil {
				return err
			}
			if len(locks) == 0 {
				cmd.Println("lockout: none")
			}
			now := time.Now()
			for _, st := range locks {
				expires := "until reset"
				if st.ExpiresAt != nil {
					expires = st.ExpiresAt.Format(time.RFC3339)
				}
				active := "lapsed"
				if st.Active(now) {
					active = "active"
				}
				cmd.Printf("lockout: %s (%s, expires %s): %s\n",
					st.Kind, active, expires, st.Reason)
			}

			day, ok, err := db.Day(accountID)
			if err != nil {
				return err
			}
			if ok {
				cmd.Printf("day %s  realized %.2f  trades %d  peak equity %.2f\n",
					day.Day, day.RealizedPnL, day.TradeCount, day.PeakEquity)
			}

			recs, err := db.RecentEnforcements(accountID, limit)
			if err != nil {
				return err
			}
			if len(recs) > 0 {
				cmd.Println("recent enforcements:")
				for _, r := range recs {
					cmd.Printf("  %s  %-22s %-16s %-10s %s\n",
						r.Time.Format(time.RFC3339), r.Rule, r.Action, r.Status, r.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Max enforcement records to show")
	return cmd
}
