/*
Copyright © 2026 Harits Fadlilah <haritsf.dev@gmail.com>
*/
package cmd

import (
	"github.com/haritsf/deribit-collector/internal/bootstrap"
	"github.com/spf13/cobra"
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "stream option tickers and persist them directly to postgres",
	Long: `Fetches the active option catalog, subscribes to the ticker feed and
writes every normalized update straight into the option_data table.`,
	Run: bootstrap.StartCollector,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}
