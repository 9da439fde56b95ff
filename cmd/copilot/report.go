package main

import (
	"fmt"
	"time"

	"github.com/Veraticus/statement-copilot/internal/cli"
	"github.com/Veraticus/statement-copilot/internal/summary"
	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Reports over stored statements",
	}
	cmd.AddCommand(spendReportCmd())
	return cmd
}

func spendReportCmd() *cobra.Command {
	var month, account string
	var top int

	cmd := &cobra.Command{
		Use:   "spend",
		Short: "Monthly spend by category",
		Long: `Sum outflow purchases posted in a month by category, largest first. Categories
beyond --top are folded into "other". Statement flows (payments, fees,
interest, adjustments) are not spend and are left out.`,
		Example: `  copilot report spend --month 2024-02
  copilot report spend --month 2024-02 --account nubank --top 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rows, err := store.SpendByCategory(ctx, month, accountID(account))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			reports := summary.BuildSpendReports(month, rows, top)
			if len(reports) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No spend recorded for "+month))
				return nil
			}
			for i, r := range reports {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintln(out, cli.ChartIcon+" "+r.String())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&month, "month", time.Now().Format("2006-01"), "month as YYYY-MM")
	cmd.Flags().StringVar(&account, "account", "", "only this issuer or account ID")
	cmd.Flags().IntVar(&top, "top", summary.DefaultTopCategories, "categories shown before folding the rest into other")

	return cmd
}
