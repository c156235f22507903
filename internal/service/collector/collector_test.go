package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/haritsf/deribit-collector/internal/constant"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	instruments []string
	err         error
}

func (c *fakeCatalog) FetchInstruments(ctx context.Context, currency, kind string, limit int) ([]string, error) {
	return c.instruments, c.err
}

// fakeSession hands the updates channel to the test and blocks until ctx is
// cancelled or runErr is set.
type fakeSession struct {
	updates chan<- entity.TickerUpdate
	runErr  error
}

func (s *fakeSession) Run(ctx context.Context) error {
	if s.runErr != nil {
		return s.runErr
	}

	<-ctx.Done()
	return nil
}

type memorySink struct {
	mu      sync.Mutex
	records []entity.OptionTicker

	// blockCalls makes the first n Append calls block until their context
	// expires.
	blockCalls int
	calls      int
}

func (s *memorySink) Append(ctx context.Context, record *entity.OptionTicker) error {
	s.mu.Lock()
	s.calls++
	blocked := s.calls <= s.blockCalls
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

func (s *memorySink) snapshot() []entity.OptionTicker {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]entity.OptionTicker, len(s.records))
	copy(records, s.records)
	return records
}

func startPipeline(t *testing.T, cfg Config, catalog CatalogClient, sink entity.TickerSink) (chan<- entity.TickerUpdate, context.CancelFunc, <-chan error) {
	t.Helper()

	sessionUpdates := make(chan chan<- entity.TickerUpdate, 1)
	factory := func(instrumentNames []string, updates chan<- entity.TickerUpdate) SessionRunner {
		sessionUpdates <- updates
		return &fakeSession{updates: updates}
	}

	service := NewService(cfg, catalog, sink, factory)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- service.Run(ctx) }()

	select {
	case updates := <-sessionUpdates:
		return updates, cancel, runDone
	case err := <-runDone:
		cancel()
		t.Fatalf("pipeline stopped before the session started: %v", err)
		return nil, nil, nil
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("session was never started")
		return nil, nil, nil
	}
}

func tickerUpdate(instrumentName, payload string) entity.TickerUpdate {
	return entity.TickerUpdate{
		Channel: constant.GetDeribitTickerChannel(instrumentName),
		Data:    []byte(payload),
	}
}

func TestPipelinePersistsNormalizedUpdate(t *testing.T) {
	sink := &memorySink{}
	updates, cancel, runDone := startPipeline(t, Config{}, &fakeCatalog{instruments: []string{"BTC-1JAN-50000-C"}}, sink)
	defer cancel()

	updates <- tickerUpdate("BTC-1JAN-50000-C", `{"instrument_name":"BTC-1JAN-50000-C","mark_price":0.045,"mark_iv":0.62,"greeks":{"delta":0.51},"timestamp":1735689600000}`)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	record := sink.snapshot()[0]
	assert.Equal(t, "BTC-1JAN-50000-C", record.InstrumentName)
	require.True(t, record.Price.Valid)
	assert.True(t, record.Price.Decimal.Equal(decimal.RequireFromString("0.045")))
	require.True(t, record.Volatility.Valid)
	assert.True(t, record.Volatility.Decimal.Equal(decimal.RequireFromString("0.62")))
	require.True(t, record.Delta.Valid)
	assert.True(t, record.Delta.Decimal.Equal(decimal.RequireFromString("0.51")))
	assert.Equal(t, time.UnixMilli(1735689600000).UTC(), record.Timestamp)

	cancel()
	require.NoError(t, <-runDone)
}

func TestPipelineSkipsMalformedUpdates(t *testing.T) {
	sink := &memorySink{}
	updates, cancel, runDone := startPipeline(t, Config{}, &fakeCatalog{instruments: []string{"BTC-1JAN-50000-C"}}, sink)
	defer cancel()

	updates <- tickerUpdate("BTC-1JAN-50000-C", `{"broken`)
	updates <- tickerUpdate("BTC-1JAN-50000-C", `{"instrument_name":"ETH-UNKNOWN","timestamp":1735689600000}`)
	updates <- tickerUpdate("BTC-1JAN-50000-C", `{"instrument_name":"BTC-1JAN-50000-C","mark_price":0.05,"timestamp":1735689600000}`)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "BTC-1JAN-50000-C", sink.snapshot()[0].InstrumentName)

	cancel()
	require.NoError(t, <-runDone)
}

func TestPipelinePreservesPerInstrumentOrder(t *testing.T) {
	instruments := []string{"BTC-1JAN-50000-C", "BTC-1JAN-60000-C"}
	sink := &memorySink{}
	updates, cancel, runDone := startPipeline(t, Config{}, &fakeCatalog{instruments: instruments}, sink)
	defer cancel()

	const perInstrument = 10
	for i := 0; i < perInstrument; i++ {
		for _, name := range instruments {
			payload := fmt.Sprintf(`{"instrument_name":%q,"mark_price":%d.5,"timestamp":%d}`, name, i+1, 1735689600000+int64(i))
			updates <- tickerUpdate(name, payload)
		}
	}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == perInstrument*len(instruments)
	}, 5*time.Second, 10*time.Millisecond)

	byInstrument := make(map[string][]time.Time)
	for _, record := range sink.snapshot() {
		byInstrument[record.InstrumentName] = append(byInstrument[record.InstrumentName], record.Timestamp)
	}

	for _, name := range instruments {
		timestamps := byInstrument[name]
		require.Len(t, timestamps, perInstrument)
		for i := 1; i < len(timestamps); i++ {
			assert.True(t, timestamps[i].After(timestamps[i-1]), "instrument %s out of order at %d", name, i)
		}
	}

	cancel()
	require.NoError(t, <-runDone)
}

func TestPipelineDropsRecordWhenSinkBusy(t *testing.T) {
	sink := &memorySink{blockCalls: 1}
	cfg := Config{AppendTimeout: 50 * time.Millisecond}
	updates, cancel, runDone := startPipeline(t, cfg, &fakeCatalog{instruments: []string{"BTC-1JAN-50000-C"}}, sink)
	defer cancel()

	updates <- tickerUpdate("BTC-1JAN-50000-C", `{"instrument_name":"BTC-1JAN-50000-C","mark_price":0.01,"timestamp":1735689600000}`)
	updates <- tickerUpdate("BTC-1JAN-50000-C", `{"instrument_name":"BTC-1JAN-50000-C","mark_price":0.02,"timestamp":1735689600001}`)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	record := sink.snapshot()[0]
	require.True(t, record.Price.Valid)
	assert.True(t, record.Price.Decimal.Equal(decimal.RequireFromString("0.02")))

	cancel()
	require.NoError(t, <-runDone)
}

func TestPipelineRetriesOnceWhenConfigured(t *testing.T) {
	sink := &memorySink{blockCalls: 1}
	cfg := Config{AppendTimeout: 50 * time.Millisecond, RetryOnSinkBusy: true}
	updates, cancel, runDone := startPipeline(t, cfg, &fakeCatalog{instruments: []string{"BTC-1JAN-50000-C"}}, sink)
	defer cancel()

	updates <- tickerUpdate("BTC-1JAN-50000-C", `{"instrument_name":"BTC-1JAN-50000-C","mark_price":0.01,"timestamp":1735689600000}`)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	record := sink.snapshot()[0]
	require.True(t, record.Price.Valid)
	assert.True(t, record.Price.Decimal.Equal(decimal.RequireFromString("0.01")))

	cancel()
	require.NoError(t, <-runDone)
}

func TestPipelineCatalogFailureIsFatal(t *testing.T) {
	catalogErr := fmt.Errorf("%w: venue down", entity.ErrCatalogUnavailable)
	service := NewService(Config{}, &fakeCatalog{err: catalogErr}, &memorySink{}, func(instrumentNames []string, updates chan<- entity.TickerUpdate) SessionRunner {
		t.Fatal("session must not start when the catalog fetch fails")
		return nil
	})

	err := service.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrCatalogUnavailable)
}

func TestPipelinePropagatesFatalSessionError(t *testing.T) {
	sessionErr := fmt.Errorf("giving up: %w", entity.ErrAuthRejected)
	service := NewService(Config{}, &fakeCatalog{instruments: []string{"BTC-1JAN-50000-C"}}, &memorySink{}, func(instrumentNames []string, updates chan<- entity.TickerUpdate) SessionRunner {
		return &fakeSession{updates: updates, runErr: sessionErr}
	})

	err := service.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrAuthRejected)
}

func TestPipelineCapsSubscriptions(t *testing.T) {
	var captured []string
	catalog := &fakeCatalog{instruments: []string{"A", "B", "C", "D"}}
	service := NewService(Config{MaxSubscriptions: 2}, catalog, &memorySink{}, func(instrumentNames []string, updates chan<- entity.TickerUpdate) SessionRunner {
		captured = instrumentNames
		return &fakeSession{updates: updates, runErr: errors.New("stop")}
	})

	_ = service.Run(context.Background())
	assert.Equal(t, []string{"A", "B"}, captured)
}
