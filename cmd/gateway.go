/*
Copyright © 2026 Harits Fadlilah <haritsf.dev@gmail.com>
*/
package cmd

import (
	"github.com/haritsf/deribit-collector/internal/bootstrap"
	"github.com/spf13/cobra"
)

// gatewayCmd represents the gateway command
var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "stream option tickers and publish them to jetstream",
	Long: `Runs the collector pipeline with a jetstream publisher as the sink so
persistence can be scaled out across worker processes.`,
	Run: bootstrap.StartMarketDataGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}
