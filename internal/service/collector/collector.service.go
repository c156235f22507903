package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/haritsf/deribit-collector/internal/service/deribit"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxSubscriptions = 5
	defaultQueueSize        = 256
	defaultAppendTimeout    = 2 * time.Second
)

type Config struct {
	Currency         string
	Kind             string
	MaxSubscriptions int
	QueueSize        int
	AppendTimeout    time.Duration
	RetryOnSinkBusy  bool
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = "BTC"
	}
	if c.Kind == "" {
		c.Kind = "option"
	}
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = defaultMaxSubscriptions
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = defaultAppendTimeout
	}

	return c
}

type CatalogClient interface {
	FetchInstruments(ctx context.Context, currency, kind string, limit int) ([]string, error)
}

type SessionRunner interface {
	Run(ctx context.Context) error
}

// SessionFactory builds the stream session once the subscription set is
// known. Indirection exists so the pipeline can be driven by a fake session
// in tests.
type SessionFactory func(instrumentNames []string, updates chan<- entity.TickerUpdate) SessionRunner

// Service is the coordinator: catalog fetch, session supervision, and the
// single consumer goroutine that carries updates through the normalizer into
// the sink. One consumer reading one FIFO channel is what preserves
// per-instrument arrival order end to end.
type Service struct {
	cfg        Config
	catalog    CatalogClient
	sink       entity.TickerSink
	newSession SessionFactory
}

func NewService(cfg Config, catalog CatalogClient, sink entity.TickerSink, newSession SessionFactory) *Service {
	return &Service{
		cfg:        cfg.withDefaults(),
		catalog:    catalog,
		sink:       sink,
		newSession: newSession,
	}
}

// Run blocks until ctx is cancelled or the session hits a fatal condition.
// A catalog failure is fatal: there is no point starting a stream session
// with zero instruments.
func (s *Service) Run(ctx context.Context) error {
	instruments, err := s.catalog.FetchInstruments(ctx, s.cfg.Currency, s.cfg.Kind, s.cfg.MaxSubscriptions)
	if err != nil {
		return err
	}

	if len(instruments) > s.cfg.MaxSubscriptions {
		instruments = instruments[:s.cfg.MaxSubscriptions]
	}

	logrus.WithField("instruments", instruments).Info("starting collector pipeline")

	updates := make(chan entity.TickerUpdate, s.cfg.QueueSize)
	normalizer := deribit.NewNormalizer(instruments)
	session := s.newSession(instruments, updates)

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- session.Run(ctx)
	}()

	for {
		select {
		case update := <-updates:
			s.process(ctx, normalizer, update)
		case err := <-sessionDone:
			if err != nil {
				return fmt.Errorf("stream session: %w", err)
			}
			return nil
		}
	}
}

func (s *Service) process(ctx context.Context, normalizer *deribit.Normalizer, update entity.TickerUpdate) {
	record := normalizer.Normalize(update.Data)
	if record == nil {
		return
	}

	err := s.append(ctx, record)
	if errors.Is(err, entity.ErrSinkBusy) && s.cfg.RetryOnSinkBusy {
		err = s.append(ctx, record)
	}

	if err != nil {
		logrus.WithField("instrument", record.InstrumentName).Errorf("dropping record, append failed: %v", err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"instrument": record.InstrumentName,
		"price":      nullDecimalForLog(record.Price),
		"iv":         nullDecimalForLog(record.Volatility),
		"delta":      nullDecimalForLog(record.Delta),
	}).Debug("stored ticker observation")
}

// append bounds every sink call so a slow store can never starve the
// pipeline; a deadline becomes ErrSinkBusy and the record is dropped.
func (s *Service) append(ctx context.Context, record *entity.OptionTicker) error {
	appendCtx, cancel := context.WithTimeout(ctx, s.cfg.AppendTimeout)
	defer cancel()

	err := s.sink.Append(appendCtx, record)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("append timed out after %s: %w", s.cfg.AppendTimeout, entity.ErrSinkBusy)
	}

	return err
}

func nullDecimalForLog(value decimal.NullDecimal) string {
	if !value.Valid {
		return "null"
	}

	return value.Decimal.String()
}
