/*
Copyright © 2026 Harits Fadlilah <haritsf.dev@gmail.com>
*/
package cmd

import (
	"github.com/haritsf/deribit-collector/internal/bootstrap"
	"github.com/spf13/cobra"
)

// showRecordsCmd represents the show-records command
var showRecordsCmd = &cobra.Command{
	Use:   "show-records",
	Short: "print the most recent option_data rows",
	Run:   bootstrap.StartShowRecords,
}

// showStatsCmd represents the show-stats command
var showStatsCmd = &cobra.Command{
	Use:   "show-stats",
	Short: "print aggregate stats for the option_data table",
	Run:   bootstrap.StartShowStats,
}

// showLatestCmd represents the show-latest command
var showLatestCmd = &cobra.Command{
	Use:   "show-latest",
	Short: "print the cached latest ticker for an instrument",
	Args:  cobra.ExactArgs(1),
	Run:   bootstrap.StartShowLatest,
}

func init() {
	rootCmd.AddCommand(showRecordsCmd)
	rootCmd.AddCommand(showStatsCmd)
	rootCmd.AddCommand(showLatestCmd)

	showRecordsCmd.PersistentFlags().Int("limit", 10, "number of rows to print")
	showRecordsCmd.PersistentFlags().String("instrument", "", "filter by instrument name")
}
