// Package cmd implements the mbox-to-csv command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-csv/config"
	"github.com/dhcgn/mbox-to-csv/convert"
	"github.com/dhcgn/mbox-to-csv/csvout"
	"github.com/dhcgn/mbox-to-csv/dedupe"
	"github.com/dhcgn/mbox-to-csv/filter"
	"github.com/dhcgn/mbox-to-csv/mailparse"
	"github.com/dhcgn/mbox-to-csv/mbox"
	"github.com/dhcgn/mbox-to-csv/progress"
	"github.com/dhcgn/mbox-to-csv/stats"
)

var rootCmd = &cobra.Command{
	Use:          "mbox-to-csv",
	Short:        "Convert mbox archives into CSV files",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, closeLog, err := newLogger(cfg, os.Stdout)
		if err != nil {
			return err
		}
		defer closeLog()

		slog.SetDefault(logger)
		logger.Info("starting mbox-to-csv", "mbox", cfg.MboxPath, "output", cfg.OutputPath, "workers", cfg.Workers)

		return run(cmd.Context(), cfg, logger)
	},
}

func init() {
	config.RegisterFlags(rootCmd)
}

// Execute runs the root command. Interrupts cancel the conversion at the next
// message boundary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// conversionOptions maps the configuration onto the pipeline options.
func conversionOptions(cfg config.Config, logger *slog.Logger) convert.Options {
	return convert.Options{
		Workers: cfg.Workers,
		Mbox: mbox.Options{
			Framing: mbox.Framing(cfg.Framing),
			Filter: filter.Options{
				IncludeHeader: cfg.IncludeHeader,
				IncludeBody:   cfg.IncludeBody,
				ExcludeHeader: cfg.ExcludeHeader,
				ExcludeBody:   cfg.ExcludeBody,
			},
			Dedupe: cfg.Dedupe,
		},
		Record: mailparse.Options{
			HTMLFallback:  cfg.HTMLFallback,
			BareAddresses: cfg.BareAddresses,
		},
		CSV: csvout.Options{
			CRLF: cfg.CRLF,
			BOM:  cfg.BOM,
		},
		Logger: logger,
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	opts := conversionOptions(cfg, logger)

	if cfg.StateDir != "" {
		tracker, err := dedupe.OpenHistory(cfg.StateDir, filepath.Base(cfg.MboxPath))
		if err != nil {
			return fmt.Errorf("dedupe.OpenHistory: %w", err)
		}
		defer func() {
			if err := tracker.Close(); err != nil {
				logger.Error("failed to close state file", "err", err)
			}
		}()
		logger.Info("loaded export history", "stateDir", cfg.StateDir, "known", tracker.Snapshot().Processed)
		opts.Mbox.History = tracker
	}

	total := 0
	if cfg.LogLevel == "info" {
		n, err := countMessages(cfg.MboxPath, opts.Mbox.Framing)
		if err != nil {
			logger.Warn("could not count messages, progress bar disabled", "err", err)
		} else {
			total = n
		}
	}
	bar := progress.New(total, cfg.LogLevel)
	opts.Observers = append(opts.Observers, bar.Attach, func(stream stats.EventStream) {
		stats.NewReporter(stream, logger)
	})

	in, err := os.Open(cfg.MboxPath)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer in.Close()

	out, err := createOutput(cfg.OutputPath, cfg.AgeRecipients)
	if err != nil {
		return err
	}

	started := time.Now()
	summary, err := convert.ConvertMboxToCsv(ctx, in, out, opts)
	if err != nil {
		out.Abort()
		return err
	}
	if err := out.Commit(); err != nil {
		return err
	}

	logger.Info("conversion finished", append(summary.LogAttrs(), "output", cfg.OutputPath)...)
	if summary.Skipped > 0 {
		logger.Warn("some messages could not be converted", "skipped", summary.Skipped)
	}
	if cfg.LogLevel == "info" {
		progress.PrintSummary(summary, cfg.OutputPath, time.Since(started))
	}
	return nil
}

func countMessages(path string, framing mbox.Framing) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	in, err := convert.OpenInput(f)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	return mbox.CountMessages(in, framing)
}
