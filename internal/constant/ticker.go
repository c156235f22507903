package constant

import "strings"

const (
	ProductionEnvironment = "production"

	TickerStreamName       = "option_ticker"
	TickerStreamSubjectAll = "option_ticker.*"

	TickerInsertQueueGroup = "option_ticker_insert_group"

	deribitTickerChannelPrefix = "ticker."
	deribitTickerChannelSuffix = ".raw"
)

// GetTickerStreamSubject returns the JetStream subject a normalized ticker
// event for the given instrument is published on.
func GetTickerStreamSubject(instrumentName string) string {
	return TickerStreamName + "." + instrumentName
}

// GetDeribitTickerChannel builds the Deribit subscription channel name for an
// instrument, e.g. ticker.BTC-1JAN-50000-C.raw.
func GetDeribitTickerChannel(instrumentName string) string {
	return deribitTickerChannelPrefix + instrumentName + deribitTickerChannelSuffix
}

// InstrumentFromTickerChannel extracts the instrument name back out of a
// Deribit ticker channel. Returns "" when the channel is not a ticker channel.
func InstrumentFromTickerChannel(channel string) string {
	if !strings.HasPrefix(channel, deribitTickerChannelPrefix) || !strings.HasSuffix(channel, deribitTickerChannelSuffix) {
		return ""
	}

	return channel[len(deribitTickerChannelPrefix) : len(channel)-len(deribitTickerChannelSuffix)]
}
