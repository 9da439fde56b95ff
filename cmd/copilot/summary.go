package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/statement-copilot/internal/cli"
	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/Veraticus/statement-copilot/internal/summary"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func summaryCmd() *cobra.Command {
	var statementID, account string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize a stored statement",
		Long: `Print the rollup of a stored statement: total, top categories, top expenses
and statement flows. Without --statement, list the stored statements.`,
		Example: `  copilot summary
  copilot summary --account nubank
  copilot summary --statement 6f1c...`,
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

			if statementID == "" {
				statements, err := store.ListStatements(ctx, accountID(account))
				if err != nil {
					return err
				}
				printStatements(cmd.OutOrStdout(), statements)
				return nil
			}

			doc, err := store.LoadDocument(ctx, statementID)
			if errors.Is(err, common.ErrNotFound) {
				return common.NewUserError("no statement with id "+statementID, err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(cli.ReceiptIcon+" "+statementID, summary.Summarize(*doc)))
			return nil
		},
	}

	cmd.Flags().StringVar(&statementID, "statement", "", "statement ID")
	cmd.Flags().StringVar(&account, "account", "", "only list statements of this issuer or account ID")

	return cmd
}

func printStatements(out io.Writer, statements []model.Statement) {
	if len(statements) == 0 {
		fmt.Fprintln(out, cli.SubtleStyle.Render("No statements stored yet."))
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	fmt.Fprintln(w, strings.Join([]string{
		headerStyle.Render("ID"),
		headerStyle.Render("ACCOUNT"),
		headerStyle.Render("PERIOD"),
		headerStyle.Render("DUE"),
		headerStyle.Render("TOTAL"),
	}, "\t"))

	for _, st := range statements {
		due := "-"
		if st.DueDate != nil {
			due = *st.DueDate
		}
		fmt.Fprintf(w, "%s\t%s\t%s..%s\t%s\t%s\n",
			cli.InfoStyle.Render(st.ID),
			st.AccountID,
			st.PeriodStart, st.PeriodEnd,
			due,
			summary.FormatMoney(st.Currency, st.TotalMinor),
		)
	}
	_ = w.Flush()
}

// accountID accepts either an issuer or a full account ID.
func accountID(account string) string {
	account = strings.TrimSpace(account)
	if account == "" || strings.HasPrefix(account, "acc:") {
		return account
	}
	return model.AccountID(account)
}

