package main

import (
	"log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "threadmon [command]",
	Short: "threadmon: thread and process resource monitor",
	Long:  `threadmon periodically samples CPU and memory utilization for a group of threads (matched by name) plus a set of auxiliary processes, and appends the readings to a semicolon-delimited file for spreadsheet analysis.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to an optional JSON config file")
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
