package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediadump/internal/daemon"
	"mediadump/internal/workspace"
)

func newWorkspaceCommand(ctx *commandContext) *cobra.Command {
	workspaceCmd := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect and clean scratch job directories and archives",
	}
	workspaceCmd.AddCommand(newWorkspaceListCommand(ctx))
	workspaceCmd.AddCommand(newWorkspaceCleanCommand(ctx))
	return workspaceCmd
}

func newWorkspaceListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List job directories and archives left on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			entries, err := workspace.ListEntries(cfg.Paths.ScratchDir, cfg.Paths.ArchiveDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No job directories or archives found")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Name,
					now.Sub(e.ModTime).Round(time.Second).String(),
					fmt.Sprintf("%d", e.Size),
					e.Path,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Name", "Age", "Bytes", "Path"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight}))
			return nil
		},
	}
}

func newWorkspaceCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration
	var force bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale job directories and archives once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !force {
				running, err := daemon.Running(cfg)
				if err != nil {
					return err
				}
				if running {
					return fmt.Errorf("a daemon holds %s and sweeps this scratch directory; use --force to clean anyway", daemon.LockPath(cfg))
				}
			}
			age := maxAge
			if age <= 0 {
				age = cfg.StaleAfter()
			}

			result := workspace.CleanStale(cmd.Context(), cfg.Paths.ScratchDir, cfg.Paths.ArchiveDir, age, ctx.cliLogger(false))
			out := cmd.OutOrStdout()
			for _, path := range result.Removed {
				fmt.Fprintf(out, "removed %s\n", path)
			}
			fmt.Fprintf(out, "Removed %d stale entr%s older than %s\n", len(result.Removed), plural(len(result.Removed), "y", "ies"), age)
			if len(result.Errors) > 0 {
				msgs := make([]string, 0, len(result.Errors))
				for _, e := range result.Errors {
					msgs = append(msgs, fmt.Sprintf("%s: %v", e.Path, e.Error))
				}
				return fmt.Errorf("cleanup incomplete:\n  %s", strings.Join(msgs, "\n  "))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Remove entries older than this (default workspace.stale_after_minutes)")
	cmd.Flags().BoolVar(&force, "force", false, "Clean even while a daemon holds the scratch lock")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
