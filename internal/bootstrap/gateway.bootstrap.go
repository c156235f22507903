package bootstrap

import (
	"context"

	"github.com/haritsf/deribit-collector/internal/config"
	"github.com/haritsf/deribit-collector/internal/infrastructure"
	"github.com/haritsf/deribit-collector/internal/service/collector"
	"github.com/haritsf/deribit-collector/internal/service/deribit"
	"github.com/haritsf/deribit-collector/internal/util"
	"github.com/spf13/cobra"
)

func StartMarketDataGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := config.Env.Deribit.Validate()
	util.ContinueOrFatal(err)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	publisher := collector.NewJetstreamPublisher(js)
	err = publisher.InitStream(ctx)
	util.ContinueOrFatal(err)

	catalogClient := deribit.NewRestClient(config.Env.Deribit)
	pipeline := collector.NewService(collectorPipelineConfig(), catalogClient, publisher, deribitSessionFactory())

	runDone := make(chan struct{})
	go func() {
		err := pipeline.Run(ctx)
		util.ContinueOrFatal(err)
		close(runDone)
	}()

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"collector pipeline": func(ctx context.Context) error {
			cancel()
			return nil
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	select {
	case <-runDone:
	case <-wait:
	}
}
