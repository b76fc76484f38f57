package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediadump/internal/config"
	"mediadump/internal/daemonctl"
	"mediadump/internal/deps"
	"mediadump/internal/fileutil"
	"mediadump/internal/manifest"
	"mediadump/internal/pipeline"
	"mediadump/internal/services"
	"mediadump/internal/transcode"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string
	var remote bool
	var daemonAddr string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "export <manifest.json|->",
		Short: "Export a manifest into a ZIP archive",
		Long: `Fetch every voice and video listed in the manifest, convert voices to the
configured format, and write one ZIP archive.

The job runs in-process by default. With --remote the manifest is posted to
a running daemon and the archive it returns is saved instead. Pass "-" to
read the manifest from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			m, err := readManifest(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if remote {
				client := daemonctl.NewFromConfig(cfg)
				if addr := strings.TrimSpace(daemonAddr); addr != "" {
					client = daemonctl.New(addr, daemonctl.WithToken(cfg.Server.Token))
				}
				return runRemoteExport(runCtx, cmd.OutOrStdout(), client, m, output)
			}
			return runLocalExport(runCtx, cmd.OutOrStdout(), cfg, ctx, m, output, verbose)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Archive destination (file or directory; default ./media_dump_<job>.zip)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Run the export on the daemon instead of in-process")
	cmd.Flags().StringVar(&daemonAddr, "server", "", "Daemon address for --remote (default server.bind)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")
	return cmd
}

func readManifest(stdin io.Reader, source string) (manifest.Manifest, error) {
	if source == "-" {
		m, err := manifest.Decode(stdin)
		if err != nil {
			return manifest.Manifest{}, fmt.Errorf("read manifest from stdin: %w", err)
		}
		return m, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	m, err := manifest.Decode(f)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("read manifest %s: %w", source, err)
	}
	return m, nil
}

func runLocalExport(ctx context.Context, out io.Writer, cfg *config.Config, cmdCtx *commandContext, m manifest.Manifest, output string, verbose bool) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	logger := cmdCtx.cliLogger(verbose)
	toolchain := transcode.ToolchainFromStatus(deps.ResolveFFmpeg(cfg.FFmpegBinary()))
	jobs := pipeline.NewFromConfig(cfg, toolchain, nil, logger)

	result, err := jobs.Run(ctx, m)
	if err != nil {
		return fmt.Errorf("export failed (%s): %w", services.ErrorCode(err), err)
	}
	defer result.Cleanup()

	target, err := resolveOutputPath(output, result.JobID)
	if err != nil {
		return err
	}
	if err := fileutil.MoveFile(result.ArchivePath, target); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}

	fmt.Fprintln(out, renderItemTable(result.Items))
	fmt.Fprintln(out, summaryLine(result.Stats, len(result.Entries)))
	if !toolchain.Available && result.Stats.Voices > 0 {
		fmt.Fprintf(out, "Transcoder unavailable (%s); voices kept in their original format\n", toolchain.Detail)
	}
	fmt.Fprintf(out, "Archive written to %s (job %s)\n", target, result.JobID)
	return nil
}

func runRemoteExport(ctx context.Context, out io.Writer, client *daemonctl.Client, m manifest.Manifest, output string) error {
	target, err := resolveOutputPath(output, "remote")
	if err != nil {
		return err
	}
	partial := target + ".part"
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	jobID, n, err := client.Export(ctx, m, f)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(partial)
		if daemonctl.IsUnreachable(err) {
			return fmt.Errorf("%w; start the daemon with `mediadump serve`", err)
		}
		return err
	}

	if output == "" || isDir(output) {
		target = filepath.Join(filepath.Dir(target), archiveFileName(jobID))
	}
	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("save archive: %w", err)
	}
	fmt.Fprintf(out, "Archive written to %s (job %s, %s bytes)\n", target, jobID, strconv.FormatInt(n, 10))
	return nil
}

func archiveFileName(jobID string) string {
	return "media_dump_" + jobID + ".zip"
}

// resolveOutputPath returns the archive destination: output itself when it
// names a file, or media_dump_<job>.zip inside output (or the working
// directory) otherwise.
func resolveOutputPath(output, jobID string) (string, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return filepath.Abs(archiveFileName(jobID))
	}
	expanded, err := config.ExpandPath(output)
	if err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}
	if isDir(expanded) {
		return filepath.Join(expanded, archiveFileName(jobID)), nil
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return expanded, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func renderItemTable(items []pipeline.ItemReport) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		fetched := "failed"
		if item.Fetched {
			fetched = fmt.Sprintf("ok (%d)", item.Attempts)
		}
		conversion := "-"
		if item.Kind == manifest.KindVoice && item.Fetched {
			conversion = humanize(item.Conversion.String())
		}
		rows = append(rows, []string{
			humanize(string(item.Kind)),
			strconv.Itoa(item.Index),
			strconv.FormatInt(item.Timestamp, 10),
			fetched,
			conversion,
			item.Entry,
			item.Reason,
		})
	}
	return renderTable(
		[]string{"Kind", "#", "Date", "Fetch", "Conversion", "Entry", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight},
	)
}

func summaryLine(stats pipeline.Stats, entries int) string {
	return fmt.Sprintf("%d of %d items archived (%d voices, %d videos; %d failed, %d converted, %d kept original) in %s",
		entries, stats.Voices+stats.Videos, stats.Voices, stats.Videos,
		stats.Failed, stats.Converted, stats.KeptOriginal+stats.Unavailable,
		stats.Duration.Round(time.Millisecond))
}
