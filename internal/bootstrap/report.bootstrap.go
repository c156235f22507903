package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/haritsf/deribit-collector/internal/config"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/haritsf/deribit-collector/internal/infrastructure"
	"github.com/haritsf/deribit-collector/internal/repository"
	"github.com/haritsf/deribit-collector/internal/util"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func StartShowRecords(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	limit, _ := cmd.Flags().GetInt("limit")
	instrumentName, _ := cmd.Flags().GetString("instrument")

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["market_data"])
	util.ContinueOrFatal(err)
	defer db.Close()

	optionDataRepo := repository.NewOptionDataRepository(db)

	var records []entity.OptionTicker
	if instrumentName != "" {
		records, err = optionDataRepo.GetByInstrument(ctx, instrumentName, limit)
	} else {
		records, err = optionDataRepo.GetRecent(ctx, limit)
	}
	util.ContinueOrFatal(err)

	if len(records) == 0 {
		fmt.Println("no records found")
		return
	}

	for _, record := range records {
		fmt.Printf("[%d] %s price=%s iv=%s delta=%s ts=%s ingested=%s\n",
			record.ID,
			record.InstrumentName,
			formatNullDecimal(record.Price),
			formatNullDecimal(record.Volatility),
			formatNullDecimal(record.Delta),
			record.Timestamp.Format(time.RFC3339),
			record.CreatedAt.Format(time.RFC3339),
		)
	}
}

func StartShowStats(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database["market_data"])
	util.ContinueOrFatal(err)
	defer db.Close()

	optionDataRepo := repository.NewOptionDataRepository(db)

	stats, err := optionDataRepo.Stats(ctx)
	util.ContinueOrFatal(err)

	fmt.Printf("total records:      %d\n", stats.TotalRecords)
	fmt.Printf("unique instruments: %d\n", stats.UniqueInstruments)
	fmt.Printf("earliest ingest:    %s\n", formatNullTime(stats.EarliestCreatedAt))
	fmt.Printf("latest ingest:      %s\n", formatNullTime(stats.LatestCreatedAt))
}

func StartShowLatest(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	instrumentName := args[0]

	redisClient, err := infrastructure.NewRedisClient(ctx, config.Env.Redis["cache"])
	util.ContinueOrFatal(err)
	defer redisClient.Close()

	tickerCache := repository.NewTickerCacheRepository(redisClient)

	ticker, found, err := tickerCache.GetLatest(ctx, instrumentName)
	util.ContinueOrFatal(err)

	if !found {
		fmt.Printf("no cached ticker for %s\n", instrumentName)
		return
	}

	fmt.Printf("%s price=%s iv=%s delta=%s ts=%s\n",
		ticker.InstrumentName,
		formatNullDecimal(ticker.Price),
		formatNullDecimal(ticker.Volatility),
		formatNullDecimal(ticker.Delta),
		ticker.Timestamp.Format(time.RFC3339),
	)
}

func formatNullDecimal(value decimal.NullDecimal) string {
	if !value.Valid {
		return "-"
	}

	return value.Decimal.String()
}

func formatNullTime(value null.Time) string {
	if !value.Valid {
		return "-"
	}

	return value.Time.Format(time.RFC3339)
}
