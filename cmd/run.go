// File: cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sbrtools/gcbot/internal/config"
	"github.com/sbrtools/gcbot/internal/credentials"
	"github.com/sbrtools/gcbot/internal/ledger"
	"github.com/sbrtools/gcbot/internal/observability"
	"github.com/sbrtools/gcbot/internal/pipeline"
	"github.com/sbrtools/gcbot/internal/records"
	"github.com/sbrtools/gcbot/internal/session"
	"github.com/sbrtools/gcbot/internal/surface"
	"github.com/sbrtools/gcbot/internal/watchdog"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Processes the input file's records against the target surface",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind override flags to their Viper keys so the precedence
			// (flags > env > config file > defaults) holds.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("run.idle_timeout", cmd.Flags().Lookup("idle-timeout")); err != nil {
				return err
			}
			return viper.BindPFlag("run.timeout_scale", cmd.Flags().Lookup("timeout-scale"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("failed to unmarshal config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			inputFile, _ := cmd.Flags().GetString("input-file")
			startRow, _ := cmd.Flags().GetInt("start")
			endRow, _ := cmd.Flags().GetInt("end")
			manualOnly, _ := cmd.Flags().GetBool("manual-only")
			credentialsFile, _ := cmd.Flags().GetString("credentials-file")
			resume, _ := cmd.Flags().GetBool("resume")
			keepOpen, _ := cmd.Flags().GetBool("keep-open")

			creds := credentials.Credentials{}
			if !manualOnly {
				var err error
				if creds, err = credentials.Load(credentialsFile); err != nil {
					logger.Warn("Failed to load credentials; continuing with manual login.", zap.Error(err))
					creds = credentials.Credentials{}
				}
			}

			if resume && startRow <= 0 {
				startRow = resolveResumeStart(cmd, &cfg, inputFile, logger)
			}

			return runBatch(cmd.Context(), &cfg, runOptions{
				inputFile:  inputFile,
				window:     records.Window{Start: startRow, End: endRow},
				creds:      creds,
				manualOnly: manualOnly,
				keepOpen:   keepOpen,
			}, logger)
		},
	}

	runCmd.Flags().StringP("input-file", "i", "", "CSV file with the records to process (required)")
	_ = runCmd.MarkFlagRequired("input-file")

	runCmd.Flags().Int("start", 0, "First row to process (1-based, inclusive)")
	runCmd.Flags().Int("end", 0, "Last row to process (1-based, inclusive; 0 means last)")
	runCmd.Flags().Bool("headless", false, "Run the browser headless (manual login steps need a visible window)")
	runCmd.Flags().Bool("manual-only", false, "Never auto-fill credentials; every login is manual")
	runCmd.Flags().String("credentials-file", "", "JSON credentials file (default config/credentials.json)")
	runCmd.Flags().Bool("resume", false, "Suggest resuming after the last processed row of recent runs")
	runCmd.Flags().Bool("keep-open", false, "Keep the browser open after the run until interrupted")
	runCmd.Flags().Duration("idle-timeout", 0, "Idle watchdog threshold. (Overrides config/env)")
	runCmd.Flags().Float64("timeout-scale", 0, "Multiplier applied to every timeout. (Overrides config/env)")

	return runCmd
}

// resolveResumeStart suggests a start row from the checkpoint and the recent
// ledgers, and asks the operator to confirm it. Work is never skipped
// silently: declining runs from the beginning.
func resolveResumeStart(cmd *cobra.Command, cfg *config.Config, inputFile string, logger *zap.Logger) int {
	suggestion := ledger.LastProcessedRow(cfg.Run.LogsDir, time.Now())
	if cp, err := ledger.LoadCheckpoint(cfg.Run.StateFile); err == nil {
		if cp.LastSource == inputFile && cp.LastRow > suggestion {
			suggestion = cp.LastRow
		}
	} else {
		logger.Warn("Failed to read checkpoint.", zap.Error(err))
	}
	if suggestion <= 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No previous progress found; starting from the first row.")
		return 0
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Last processed row was %d. Resume from row %d? [y/N]: ", suggestion, suggestion+1)
	if confirm(cmd.InOrStdin()) {
		return suggestion + 1
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Starting from the first row.")
	return 0
}

func confirm(in io.Reader) bool {
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

type runOptions struct {
	inputFile  string
	window     records.Window
	creds      credentials.Credentials
	manualOnly bool
	keepOpen   bool
}

// runBatch wires the browser, watchdog, session machine and pipeline, and
// runs the batch under a signal-aware worker group.
func runBatch(ctx context.Context, cfg *config.Config, opts runOptions, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runID := uuid.New().String()
	logger.Info("Run starting.",
		zap.String("run_id", runID),
		zap.String("input_file", opts.inputFile),
		zap.Int("start", opts.window.Start),
		zap.Int("end", opts.window.End),
		zap.Bool("manual_only", opts.manualOnly))

	// Signals request a graceful stop at the next wait boundary; they do not
	// tear down the browser mid-record.
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	tabCtx, cancelBrowser := surface.NewBrowserContext(ctx, cfg.Browser)
	defer cancelBrowser()

	driver := surface.NewDriver(tabCtx, cfg.Browser, logger)
	if err := driver.StartNetworkObserver(); err != nil {
		return fmt.Errorf("failed to start network observer: %w", err)
	}

	monitor := watchdog.NewMonitor(cfg.Run.IdleTimeout, cfg.Run.TimeoutScale,
		watchdog.WithPollInterval(cfg.Run.PollInterval))
	if err := driver.InstallActivityProbe(tabCtx, monitor.MarkActivity); err != nil {
		logger.Warn("Failed to install activity probe; manual login may trip the idle watchdog.", zap.Error(err))
	}

	useAutofill := !opts.manualOnly && opts.creds.Complete()
	sess := session.NewMachine(driver, monitor, cfg, opts.creds, useAutofill, logger)
	pl := pipeline.New(driver, monitor, sess, cfg, logger,
		pipeline.WithProgress(func(processed, total, current int) {
			logger.Debug("Progress.",
				zap.Int("processed", processed),
				zap.Int("total", total),
				zap.Int("current", current))
		}))

	var stats pipeline.Stats
	runDone := make(chan struct{})
	g := new(errgroup.Group)
	g.Go(func() error {
		defer close(runDone)
		var err error
		stats, err = pl.RunCSV(tabCtx, opts.inputFile, opts.window)
		return err
	})
	g.Go(func() error {
		select {
		case <-sigCtx.Done():
			logger.Warn("Stop requested; finishing the in-flight record.")
			monitor.RequestStop()
		case <-runDone:
		}
		return nil
	})
	err := g.Wait()

	logger.Info("Run finished.",
		zap.String("run_id", runID),
		zap.Int("total", stats.Total),
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("skipped_completed", stats.SkippedCompleted),
		zap.Int("errors", stats.Errors))

	switch {
	case err == nil:
	case errors.Is(err, watchdog.ErrAborted):
		logger.Warn("Run aborted by stop signal.")
		err = nil
	case errors.Is(err, watchdog.ErrIdleTimeout):
		logger.Error("Run ended: idle timeout reached.")
	}

	if opts.keepOpen && sigCtx.Err() == nil {
		fmt.Println("Run complete. Browser stays open; press Ctrl+C to close.")
		<-sigCtx.Done()
	}
	return err
}
