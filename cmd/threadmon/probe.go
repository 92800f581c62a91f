package main

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"threadmon/internal/report"
	"threadmon/internal/source"
)

var (
	probeBackend string
	probeFilter  string
	probeThreads bool
	probeTimeout time.Duration
)

// newSource is replaced in tests.
var newSource = source.New

func init() {
	rootCmd.AddCommand(cmdProbe)

	cmdProbe.Flags().StringVar(&probeBackend, "backend", "top", "Metrics backend (top, pidstat, native)")
	cmdProbe.Flags().StringVarP(&probeFilter, "filter", "f", "", "Regex matched against thread/process names (required)")
	cmdProbe.Flags().BoolVar(&probeThreads, "threads", true, "Sample per-thread detail instead of per-process aggregate")
	cmdProbe.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Timeout for the snapshot")
	_ = cmdProbe.MarkFlagRequired("filter")
}

var cmdProbe = &cobra.Command{
	Use:   "probe --filter <regex>",
	Short: "Take a single snapshot and print it",
	Long:  "Queries the metrics backend once and prints every matching identity. Useful for checking a filter before starting the monitor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := regexp.Compile(probeFilter)
		if err != nil {
			return fmt.Errorf("compile filter: %w", err)
		}
		src, err := newSource(probeBackend)
		if err != nil {
			return err
		}
		mode := source.ModeProcess
		if probeThreads {
			mode = source.ModeThread
		}

		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		samples, err := src.Sample(ctx, filter, mode)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(samples) == 0 {
			fmt.Fprintln(out, "No matching identity")
			return nil
		}
		for _, s := range samples {
			mem := s.Mem
			if v, err := report.NormalizeMemory(s.Mem); err == nil {
				mem = fmt.Sprintf("%d", v)
			}
			fmt.Fprintf(out, "[id=%d] name=%s cpu=%.2f mem=%s\n", s.ID, s.Name, s.CPU, mem)
		}
		return nil
	},
}
