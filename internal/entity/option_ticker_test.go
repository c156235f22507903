package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOptionTickerValidate(t *testing.T) {
	valid := OptionTicker{
		InstrumentName: "BTC-1JAN-50000-C",
		Price:          decimal.NewNullDecimal(decimal.RequireFromString("0.045")),
		Timestamp:      time.UnixMilli(1735689600000).UTC(),
	}
	assert.NoError(t, valid.Validate())

	noName := valid
	noName.InstrumentName = "  "
	assert.Error(t, noName.Validate())

	noTime := valid
	noTime.Timestamp = time.Time{}
	assert.Error(t, noTime.Validate())

	negativeIV := valid
	negativeIV.Volatility = decimal.NewNullDecimal(decimal.RequireFromString("-0.1"))
	assert.Error(t, negativeIV.Validate())

	allNull := OptionTicker{
		InstrumentName: "BTC-1JAN-50000-C",
		Timestamp:      time.UnixMilli(1735689600000).UTC(),
	}
	assert.NoError(t, allNull.Validate())
}
