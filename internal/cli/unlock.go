package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Jakers471/risk-manager/lockout"
	"github.com/Jakers471/risk-manager/store"
	"github.com/Jakers471/risk-manager/timer"
)

func newUnlockCmd(opts *rootOptions) *cobra.Command {
	var (
		confirm bool
		account string
	)

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Admin override: lift the account's lockout",
		Long: `Unlock clears the persisted lockout state for the configured account.
A hard lockout only lifts with --yes; this is the admin override, not a
way around the rules mid-session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if !confirm {
				return fmt.Errorf("refusing to unlock without --yes")
			}
			accountID := cfg.Account.ID
			if account != "" {
				accountID = account
			}

			db, err := store.NewSQLite(cfg.Store.DBPath)
			if err != nil {
				return fmt.Errorf("open state db: %w", err)
			}
			defer db.Close()

			locks := lockout.NewManager(db, timer.NewManager(), slog.Default())
			if err := locks.Restore(accountID); err != nil {
				return err
			}
			if err := locks.Clear(accountID, true); err != nil {
				return err
			}
			cmd.Printf("account %s unlocked\n", accountID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the admin override")
	cmd.Flags().StringVar(&account, "account", "", "Account to unlock (defaults to the configured account)")
	return cmd
}
