package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/statement-copilot/internal/cli"
	"github.com/Veraticus/statement-copilot/internal/storage"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage database checkpoints",
		Long: `Create, list, restore, and delete database checkpoints.

Checkpoints snapshot the statement database before risky changes, such as
re-ingesting a batch of corrected documents, so it can be put back.`,
		Example: `  # Snapshot before re-ingesting corrected statements
  copilot checkpoint create --tag pre-reingest

  # List all checkpoints
  copilot checkpoint list

  # Restore from a checkpoint
  copilot checkpoint restore pre-reingest`,
	}

	cmd.AddCommand(createCheckpointCmd())
	cmd.AddCommand(listCheckpointsCmd())
	cmd.AddCommand(restoreCheckpointCmd())
	cmd.AddCommand(deleteCheckpointCmd())

	return cmd
}

// withCheckpoints opens the database and hands its checkpoint manager to fn.
func withCheckpoints(cmd *cobra.Command, fn func(*storage.CheckpointManager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manager, err := store.NewCheckpointManager()
	if err != nil {
		return fmt.Errorf("failed to create checkpoint manager: %w", err)
	}
	return fn(manager)
}

func createCheckpointCmd() *cobra.Command {
	var tag string
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				info, err := manager.Create(cmd.Context(), tag, description)
				if err != nil {
					return fmt.Errorf("failed to create checkpoint: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s Created checkpoint %s (%s)\n",
					cli.SuccessStyle.Render(cli.SuccessIcon),
					cli.InfoStyle.Render(info.ID),
					formatFileSize(info.FileSize))
				if info.Description != "" {
					fmt.Fprintf(out, "  Description: %s\n", info.Description)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Checkpoint tag/name (auto-generated if not provided)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the checkpoint")

	return cmd
}

func listCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all checkpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				checkpoints, err := manager.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list checkpoints: %w", err)
				}
				printCheckpoints(cmd.OutOrStdout(), checkpoints)
				return nil
			})
		},
	}
}

func printCheckpoints(out io.Writer, checkpoints []storage.CheckpointInfo) {
	if len(checkpoints) == 0 {
		fmt.Fprintln(out, cli.SubtleStyle.Render("No checkpoints found."))
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	fmt.Fprintln(w, strings.Join([]string{
		headerStyle.Render("NAME"),
		headerStyle.Render("CREATED"),
		headerStyle.Render("SIZE"),
		headerStyle.Render("STATEMENTS"),
		headerStyle.Render("ITEMS"),
		headerStyle.Render("TYPE"),
	}, "\t"))

	for _, cp := range checkpoints {
		typeLabel := "manual"
		if cp.IsAuto {
			typeLabel = "auto"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			cli.InfoStyle.Render(cp.ID),
			formatRelativeTime(cp.CreatedAt),
			formatFileSize(cp.FileSize),
			cp.Statements,
			cp.Items,
			cli.SubtleStyle.Render(typeLabel),
		)
	}
	_ = w.Flush()
}

// checkpointAction describes a command that acts on one existing checkpoint
// after an optional confirmation.
type checkpointAction struct {
	run     func(ctx context.Context, manager *storage.CheckpointManager, id string) error
	warning func(info *storage.CheckpointInfo) string
	use     string
	short   string
	verb    string
}

func restoreCheckpointCmd() *cobra.Command {
	return checkpointActionCmd(checkpointAction{
		use:   "restore <checkpoint-id>",
		short: "Restore database from a checkpoint",
		verb:  "Restored from",
		warning: func(info *storage.CheckpointInfo) string {
			return fmt.Sprintf("This will replace your current database with checkpoint %s (%s, %s, created %s).",
				cli.InfoStyle.Render(info.ID),
				pluralize(info.Statements, "statement"),
				pluralize(info.Items, "item"),
				info.CreatedAt.Format("2006-01-02 15:04:05"))
		},
		run: func(ctx context.Context, manager *storage.CheckpointManager, id string) error {
			return manager.Restore(ctx, id)
		},
	})
}

func deleteCheckpointCmd() *cobra.Command {
	return checkpointActionCmd(checkpointAction{
		use:   "delete <checkpoint-id>",
		short: "Delete a checkpoint",
		verb:  "Deleted",
		warning: func(info *storage.CheckpointInfo) string {
			return fmt.Sprintf("This will permanently delete checkpoint %s (%s).",
				cli.InfoStyle.Render(info.ID), formatFileSize(info.FileSize))
		},
		run: func(ctx context.Context, manager *storage.CheckpointManager, id string) error {
			return manager.Delete(ctx, id)
		},
	})
}

func checkpointActionCmd(action checkpointAction) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   action.use,
		Short: action.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			out := cmd.OutOrStdout()
			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				info, err := manager.Info(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("failed to get checkpoint info: %w", err)
				}

				if !force && !confirm(cmd, cli.FormatWarning(action.warning(info))) {
					fmt.Fprintln(out, cli.SubtleStyle.Render("Cancelled."))
					return nil
				}

				if err := action.run(cmd.Context(), manager, id); err != nil {
					return fmt.Errorf("failed to %s checkpoint: %w", strings.Fields(action.use)[0], err)
				}
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s checkpoint %s", action.verb, cli.InfoStyle.Render(id))))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt+"\nContinue? (y/N) ")
	response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(response)), "y")
}
