package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/jmoiron/sqlx"
)

type OptionDataRepository struct {
	db *sqlx.DB
}

func NewOptionDataRepository(db *sqlx.DB) *OptionDataRepository {
	return &OptionDataRepository{db: db}
}

// Append inserts one ticker observation. created_at is assigned here when the
// caller left it zero, so ingestion time always reflects persistence time.
func (r *OptionDataRepository) Append(ctx context.Context, data *entity.OptionTicker) error {
	if err := data.Validate(); err != nil {
		return err
	}

	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now().UTC()
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(data.TableName()).
		Columns(
			"instrument_name",
			"price",
			"volatility",
			"delta",
			"timestamp",
			"created_at",
		).
		Values(
			data.InstrumentName,
			data.Price,
			data.Volatility,
			data.Delta,
			data.Timestamp,
			data.CreatedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRowxContext(ctx, query, args...).Scan(&data.ID)
}

// GetRecent returns the last limit observations, most recent first. The id
// tiebreak keeps rows ingested within the same timestamp in insert order.
func (r *OptionDataRepository) GetRecent(ctx context.Context, limit int) ([]entity.OptionTicker, error) {
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("id", "instrument_name", "price", "volatility", "delta", "timestamp", "created_at").
		From(entity.OptionTicker{}.TableName()).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var records []entity.OptionTicker
	err = r.db.SelectContext(ctx, &records, query, args...)
	return records, err
}

func (r *OptionDataRepository) GetByInstrument(ctx context.Context, instrumentName string, limit int) ([]entity.OptionTicker, error) {
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("id", "instrument_name", "price", "volatility", "delta", "timestamp", "created_at").
		From(entity.OptionTicker{}.TableName()).
		Where(sq.Eq{"instrument_name": instrumentName}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var records []entity.OptionTicker
	err = r.db.SelectContext(ctx, &records, query, args...)
	return records, err
}

func (r *OptionDataRepository) Stats(ctx context.Context) (*entity.OptionDataStats, error) {
	var stats entity.OptionDataStats
	err := r.db.GetContext(ctx, &stats, `
SELECT
	COUNT(*) AS total_records,
	COUNT(DISTINCT instrument_name) AS unique_instruments,
	MIN(created_at) AS earliest_created_at,
	MAX(created_at) AS latest_created_at
FROM option_data`)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}
