package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// OptionTicker is one normalized ticker observation for a single option
// instrument. Price, volatility and delta are all optional: Deribit sends
// partial ticker frames and a row with every numeric field NULL is still a
// valid observation.
type OptionTicker struct {
	ID             int64               `db:"id" json:"id"`
	InstrumentName string              `db:"instrument_name" json:"instrument_name"`
	Price          decimal.NullDecimal `db:"price" json:"price"`
	Volatility     decimal.NullDecimal `db:"volatility" json:"volatility"`
	Delta          decimal.NullDecimal `db:"delta" json:"delta"`
	Timestamp      time.Time           `db:"timestamp" json:"timestamp"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}

func (OptionTicker) TableName() string {
	return "option_data"
}

func (t OptionTicker) Validate() error {
	if strings.TrimSpace(t.InstrumentName) == "" {
		return fmt.Errorf("option ticker instrument name is empty")
	}

	if t.Timestamp.IsZero() {
		return fmt.Errorf("option ticker event time is missing")
	}

	if t.Volatility.Valid && t.Volatility.Decimal.IsNegative() {
		return fmt.Errorf("option ticker volatility is negative: %s", t.Volatility.Decimal.String())
	}

	return nil
}

type OptionTickerEvent struct {
	EventID    string       `json:"event_id"`
	RetryCount int          `json:"retry"`
	Data       OptionTicker `json:"data"`
}

type OptionDataStats struct {
	TotalRecords      int64     `db:"total_records"`
	UniqueInstruments int64     `db:"unique_instruments"`
	EarliestCreatedAt null.Time `db:"earliest_created_at"`
	LatestCreatedAt   null.Time `db:"latest_created_at"`
}
