package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediadump/internal/daemon"
	"mediadump/internal/daemonctl"
	"mediadump/internal/server"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var daemonAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client := daemonctl.NewFromConfig(cfg)
			if addr := strings.TrimSpace(daemonAddr); addr != "" {
				client = daemonctl.New(addr)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			writeLines(out, renderSectionHeader("mediadump", colorize))

			health, err := client.Health(cmd.Context())
			if err != nil {
				writeLines(out, []string{renderStatusLine("Daemon", statusError, "Not reachable at "+client.BaseURL(), colorize)})
				locked, lockErr := daemon.Running(cfg)
				switch {
				case lockErr != nil:
					writeLines(out, []string{renderStatusLine("Scratch lock", statusWarn, lockErr.Error(), colorize)})
				case locked:
					writeLines(out, []string{renderStatusLine("Scratch lock", statusWarn, "Held by a daemon listening elsewhere", colorize)})
				}
				return err
			}
			writeLines(out, healthLines(health, client.BaseURL(), colorize))
			return nil
		},
	}

	cmd.Flags().StringVar(&daemonAddr, "server", "", "Daemon address (default server.bind)")
	return cmd
}

func healthLines(health server.Health, baseURL string, colorize bool) []string {
	kind := statusOK
	if health.Status != "ok" {
		kind = statusWarn
	}
	lines := []string{
		renderStatusLine("Daemon", kind, fmt.Sprintf("%s at %s (version %s)", humanize(health.Status), baseURL, health.Version), colorize),
		renderStatusLine("Uptime", statusInfo, (time.Duration(health.UptimeSeconds) * time.Second).String(), colorize),
		renderStatusLine("Active jobs", statusInfo, fmt.Sprintf("%d", health.ActiveJobs), colorize),
	}
	if health.Transcoder.Available {
		lines = append(lines, renderStatusLine("Transcoder", statusOK, "Ready (command: "+health.Transcoder.Command+")", colorize))
	} else {
		detail := strings.TrimSpace(health.Transcoder.Detail)
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine("Transcoder", statusWarn, detail+"; voices kept in original format", colorize))
	}
	return lines
}
