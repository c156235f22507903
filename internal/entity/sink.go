package entity

import "context"

// TickerSink accepts normalized ticker observations in arrival order. The
// collector drives the Postgres repository through it; the gateway drives the
// JetStream publisher.
type TickerSink interface {
	Append(ctx context.Context, ticker *OptionTicker) error
}
