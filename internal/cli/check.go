package cli

import (
	"github.com/spf13/cobra"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the active rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ruleSet, err := cfg.BuildRules()
			if err != nil {
				return err
			}

			cmd.Printf("config ok: account %s, db %s, reset %s %s\n",
				cfg.Account.ID, cfg.Store.DBPath, cfg.Reset.DailyAt, cfg.Reset.TZ)
			cmd.Printf("%d rules enabled:\n", len(ruleSet))
			for _, r := range ruleSet {
				cmd.Printf("  %-30s %s\n", r.Name(), r.Category())
			}
			return nil
		},
	}
}
