package bootstrap

import (
	"context"

	"github.com/haritsf/deribit-collector/internal/config"
	"github.com/haritsf/deribit-collector/internal/infrastructure"
	"github.com/haritsf/deribit-collector/internal/repository"
	"github.com/haritsf/deribit-collector/internal/service/collector"
	"github.com/haritsf/deribit-collector/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartMarketDataWorker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["market_data"])
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, config.Env.Database["market_data"].PingInterval)

	nc, js, err := infrastructure.NewJetstream()
	util.ContinueOrFatal(err)

	optionDataRepo := repository.NewOptionDataRepository(db)

	var tickerCache *repository.TickerCacheRepository
	redisClient, err := infrastructure.NewRedisClient(ctx, config.Env.Redis["cache"])
	if err != nil {
		logrus.Warnf("latest ticker cache disabled: %v", err)
	} else {
		tickerCache = repository.NewTickerCacheRepository(redisClient)
	}

	consumer := collector.NewTickerEventConsumer(
		js,
		optionDataRepo,
		tickerCache,
		config.Env.NatsJetstream.MaxRetries,
		config.Env.NatsJetstream.TimeoutHandler["insert_ticker"],
	)

	err = consumer.Subscribe(ctx)
	util.ContinueOrFatal(err)

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"database": func(ctx context.Context) error {
			cancel()
			return db.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
		"redis connection": func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		},
	})

	<-wait
}
