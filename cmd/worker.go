/*
Copyright © 2026 Harits Fadlilah <haritsf.dev@gmail.com>
*/
package cmd

import (
	"github.com/haritsf/deribit-collector/internal/bootstrap"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "consume published ticker events and persist them",
	Long: `Drains ticker events published by the gateway, inserts them into the
option_data table and refreshes the latest-ticker cache.`,
	Run: bootstrap.StartMarketDataWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
