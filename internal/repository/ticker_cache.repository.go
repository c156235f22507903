package repository

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/redis/go-redis/v9"
)

const tickerCacheKeyPrefix = "option_ticker:latest:"

// TickerCacheRepository keeps the most recent observation per instrument in
// redis so reporting tools can read it without touching the database.
type TickerCacheRepository struct {
	client *redis.Client
}

func NewTickerCacheRepository(client *redis.Client) *TickerCacheRepository {
	return &TickerCacheRepository{client: client}
}

func (r *TickerCacheRepository) SetLatest(ctx context.Context, ticker *entity.OptionTicker) error {
	payload, err := json.Marshal(ticker)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, tickerCacheKeyPrefix+ticker.InstrumentName, payload, 0).Err()
}

func (r *TickerCacheRepository) GetLatest(ctx context.Context, instrumentName string) (*entity.OptionTicker, bool, error) {
	raw, err := r.client.Get(ctx, tickerCacheKeyPrefix+instrumentName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get latest ticker for %s: %w", instrumentName, err)
	}

	var ticker entity.OptionTicker
	if err := json.Unmarshal([]byte(raw), &ticker); err != nil {
		return nil, false, err
	}

	return &ticker, true, nil
}
