package deribit

import (
	"bytes"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Normalizer turns raw ticker push payloads into OptionTicker records. It
// holds only the immutable subscription set, does no I/O and never panics:
// feed noise is absorbed, not propagated.
type Normalizer struct {
	instruments map[string]struct{}
}

func NewNormalizer(instrumentNames []string) *Normalizer {
	instruments := make(map[string]struct{}, len(instrumentNames))
	for _, name := range instrumentNames {
		instruments[name] = struct{}{}
	}

	return &Normalizer{instruments: instruments}
}

// Normalize returns nil when the payload cannot become a record: structural
// decode failure, missing or unrecognized instrument, missing event time.
// Individual numeric fields that fail to parse are dropped, not fatal, so a
// partial ticker still yields a record.
func (n *Normalizer) Normalize(raw json.RawMessage) *entity.OptionTicker {
	var payload struct {
		InstrumentName string          `json:"instrument_name"`
		MarkPrice      json.RawMessage `json:"mark_price"`
		LastPrice      json.RawMessage `json:"last_price"`
		MarkIV         json.RawMessage `json:"mark_iv"`
		Greeks         struct {
			Delta json.RawMessage `json:"delta"`
		} `json:"greeks"`
		Timestamp int64 `json:"timestamp"`
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		logrus.WithField("payload", string(raw)).Warnf("discarding malformed ticker payload: %v", err)
		return nil
	}

	instrumentName := strings.TrimSpace(payload.InstrumentName)
	if instrumentName == "" {
		logrus.Warn("discarding ticker payload without instrument name")
		return nil
	}

	if _, recognized := n.instruments[instrumentName]; !recognized {
		logrus.WithField("instrument", instrumentName).Warn("discarding ticker payload for unrecognized instrument")
		return nil
	}

	if payload.Timestamp <= 0 {
		logrus.WithField("instrument", instrumentName).Warn("discarding ticker payload without event time")
		return nil
	}

	price := parseOptionalDecimal(payload.MarkPrice)
	if !price.Valid {
		price = parseOptionalDecimal(payload.LastPrice)
	}

	volatility := parseOptionalDecimal(payload.MarkIV)
	if volatility.Valid && volatility.Decimal.IsNegative() {
		logrus.WithField("instrument", instrumentName).Warnf("dropping negative implied volatility: %s", volatility.Decimal.String())
		volatility = decimal.NullDecimal{}
	}

	return &entity.OptionTicker{
		InstrumentName: instrumentName,
		Price:          price,
		Volatility:     volatility,
		Delta:          parseOptionalDecimal(payload.Greeks.Delta),
		Timestamp:      time.UnixMilli(payload.Timestamp).UTC(),
	}
}

// parseOptionalDecimal is deliberately forgiving: absent, null, or garbage
// values all come back invalid so one bad field never rejects the record.
func parseOptionalDecimal(raw json.RawMessage) decimal.NullDecimal {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.NullDecimal{}
	}

	// The venue occasionally quotes numeric fields.
	value := strings.Trim(string(trimmed), `"`)
	if strings.TrimSpace(value) == "" {
		return decimal.NullDecimal{}
	}

	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.NullDecimal{}
	}

	return decimal.NullDecimal{Decimal: parsed, Valid: true}
}
