package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"threadmon/internal/config"
	"threadmon/internal/report"
	"threadmon/internal/sampler"
	"threadmon/internal/source"
)

var (
	runBackend      string
	runFilter       string
	runThreads      bool
	runAux          []string
	runInterval     time.Duration
	runOutputDir    string
	runDecimalComma bool
	runLogFile      string
)

func init() {
	rootCmd.AddCommand(cmdRun)

	cmdRun.Flags().StringVar(&runBackend, "backend", "top", "Metrics backend (top, pidstat, native)")
	cmdRun.Flags().StringVarP(&runFilter, "filter", "f", "", "Regex matched against thread/process names (required)")
	cmdRun.Flags().BoolVar(&runThreads, "threads", true, "Sample per-thread detail instead of per-process aggregate")
	cmdRun.Flags().StringSliceVar(&runAux, "aux", nil, "Auxiliary process name to track (repeatable)")
	cmdRun.Flags().DurationVar(&runInterval, "interval", 0, "Sampling interval (overrides config)")
	cmdRun.Flags().StringVar(&runOutputDir, "output-dir", "", "Directory for the output file (overrides config)")
	cmdRun.Flags().BoolVar(&runDecimalComma, "decimal-comma", false, "Write decimal commas instead of points")
	cmdRun.Flags().StringVar(&runLogFile, "log-file", "", "Companion log file (log goes to stderr as well)")
	_ = cmdRun.MarkFlagRequired("filter")
}

var cmdRun = &cobra.Command{
	Use:   "run --filter <regex> [--aux <name>]...",
	Short: "Start the long-running monitor",
	Long:  "Captures the matching identities once, then appends one sample row per tick until interrupted. A dead auxiliary process or a majority of unreachable identities tears the session down and rebuilds it after a backoff.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("interval") {
			if runInterval <= 0 {
				return errors.New("interval must be greater than 0")
			}
			cfg.Interval = runInterval
		}
		if cmd.Flags().Changed("output-dir") {
			cfg.OutputDir = runOutputDir
		}
		if cmd.Flags().Changed("decimal-comma") {
			cfg.DecimalComma = runDecimalComma
		}

		filter, err := regexp.Compile(runFilter)
		if err != nil {
			return fmt.Errorf("compile filter: %w", err)
		}
		src, err := source.New(runBackend)
		if err != nil {
			return err
		}
		mode := source.ModeProcess
		if runThreads {
			mode = source.ModeThread
		}

		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		path := filepath.Join(cfg.OutputDir, report.Filename(hostname, time.Now(), runFilter))
		out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open output file: %w", err)
		}
		defer out.Close()

		logSink := io.Writer(os.Stderr)
		if runLogFile != "" {
			f, err := os.OpenFile(runLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			logSink = io.MultiWriter(os.Stderr, f)
		}
		logger := log.New(logSink, "[threadmon] ", log.LstdFlags)

		fmt.Fprintf(os.Stdout, "Writing samples to %s\n", path)
		runSpin := spinner.New(spinner.CharSets[21], 120*time.Millisecond, spinner.WithWriter(os.Stdout))
		runSpin.Suffix = " Sampling..."
		runSpin.Start()
		defer runSpin.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		loop := sampler.New(sampler.Options{
			Source:            src,
			Filter:            filter,
			Mode:              mode,
			AuxNames:          runAux,
			Interval:          cfg.Interval,
			SetupBackoff:      cfg.SetupBackoff,
			DegradedThreshold: cfg.DegradedThreshold,
			DecimalComma:      cfg.DecimalComma,
		}, out, logger)

		err = loop.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
