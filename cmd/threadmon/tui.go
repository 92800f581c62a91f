package main

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"threadmon/internal/source"
	"threadmon/internal/tui"
)

var (
	tuiBackend  string
	tuiFilter   string
	tuiThreads  bool
	tuiInterval time.Duration
)

func init() {
	rootCmd.AddCommand(cmdTUI)

	cmdTUI.Flags().StringVar(&tuiBackend, "backend", "top", "Metrics backend (top, pidstat, native)")
	cmdTUI.Flags().StringVarP(&tuiFilter, "filter", "f", "", "Regex matched against thread/process names (required)")
	cmdTUI.Flags().BoolVar(&tuiThreads, "threads", true, "Sample per-thread detail instead of per-process aggregate")
	cmdTUI.Flags().DurationVar(&tuiInterval, "interval", time.Second, "Refresh interval")
	_ = cmdTUI.MarkFlagRequired("filter")
}

var cmdTUI = &cobra.Command{
	Use:   "tui --filter <regex>",
	Short: "Watch the tracked identities live",
	Long:  "Captures the matching identities once, then refreshes a terminal table with their current CPU readings. Identities appearing later never enter the table, mirroring the monitor's session discipline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := regexp.Compile(tuiFilter)
		if err != nil {
			return fmt.Errorf("compile filter: %w", err)
		}
		src, err := source.New(tuiBackend)
		if err != nil {
			return err
		}
		mode := source.ModeProcess
		if tuiThreads {
			mode = source.ModeThread
		}

		return tui.Run(tui.Options{
			Source:   src,
			Filter:   filter,
			Mode:     mode,
			Interval: tuiInterval,
		})
	},
}
