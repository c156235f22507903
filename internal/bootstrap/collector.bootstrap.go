package bootstrap

import (
	"context"

	"github.com/haritsf/deribit-collector/internal/config"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/haritsf/deribit-collector/internal/infrastructure"
	"github.com/haritsf/deribit-collector/internal/repository"
	"github.com/haritsf/deribit-collector/internal/service/collector"
	"github.com/haritsf/deribit-collector/internal/service/deribit"
	"github.com/haritsf/deribit-collector/internal/util"
	"github.com/spf13/cobra"
)

const defaultWSURL = "wss://test.deribit.com/ws/api/v2"

func StartCollector(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := config.Env.Deribit.Validate()
	util.ContinueOrFatal(err)

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["market_data"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database["market_data"].PingInterval)

	optionDataRepo := repository.NewOptionDataRepository(db)
	catalogClient := deribit.NewRestClient(config.Env.Deribit)

	pipeline := collector.NewService(collectorPipelineConfig(), catalogClient, optionDataRepo, deribitSessionFactory())

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
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
	})

	select {
	case <-runDone:
	case <-wait:
	}
}

func collectorPipelineConfig() collector.Config {
	return collector.Config{
		Currency:         config.Env.Deribit.Currency,
		Kind:             config.Env.Deribit.Kind,
		MaxSubscriptions: config.Env.Collector.MaxSubscriptions,
		QueueSize:        config.Env.Collector.QueueSize,
		AppendTimeout:    config.Env.Collector.AppendTimeout,
		RetryOnSinkBusy:  config.Env.Collector.RetryOnSinkBusy,
	}
}

func deribitSessionFactory() collector.SessionFactory {
	return func(instrumentNames []string, updates chan<- entity.TickerUpdate) collector.SessionRunner {
		return deribit.NewSession(deribitSessionConfig(), instrumentNames, updates)
	}
}

func deribitSessionConfig() deribit.SessionConfig {
	wsURL := config.Env.Deribit.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}

	return deribit.SessionConfig{
		WSURL:               wsURL,
		ClientID:            config.Env.Deribit.ClientID,
		ClientSecret:        config.Env.Deribit.ClientSecret,
		IdleTimeout:         config.Env.Collector.IdleTimeout,
		SubscribeAckTimeout: config.Env.Collector.SubscribeAckTimeout,
		AuthRetryLimit:      config.Env.Collector.AuthRetryLimit,
		ReconnectMinDelay:   config.Env.Collector.ReconnectMinDelay,
		ReconnectMaxDelay:   config.Env.Collector.ReconnectMaxDelay,
		ReconnectFactor:     config.Env.Collector.ReconnectFactor,
		EmitTimeout:         config.Env.Collector.EmitTimeout,
	}
}
