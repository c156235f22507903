package constant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickerChannelRoundTrip(t *testing.T) {
	channel := GetDeribitTickerChannel("BTC-1JAN-50000-C")
	assert.Equal(t, "ticker.BTC-1JAN-50000-C.raw", channel)
	assert.Equal(t, "BTC-1JAN-50000-C", InstrumentFromTickerChannel(channel))
}

func TestInstrumentFromTickerChannelRejectsOtherChannels(t *testing.T) {
	assert.Empty(t, InstrumentFromTickerChannel("book.BTC-1JAN-50000-C.raw"))
	assert.Empty(t, InstrumentFromTickerChannel("ticker.BTC-1JAN-50000-C.100ms"))
	assert.Empty(t, InstrumentFromTickerChannel(""))
}

func TestGetTickerStreamSubject(t *testing.T) {
	assert.Equal(t, "option_ticker.BTC-1JAN-50000-C", GetTickerStreamSubject("BTC-1JAN-50000-C"))
}
