package collector

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/haritsf/deribit-collector/internal/constant"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/haritsf/deribit-collector/internal/repository"
	"github.com/haritsf/deribit-collector/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const defaultHandlerTimeout = 5 * time.Second

// TickerEventConsumer is the worker side of the gateway/worker split: it
// drains published ticker events, persists them and refreshes the
// latest-ticker cache. Failed events are republished with an incremented
// retry count until maxRetries.
type TickerEventConsumer struct {
	js             nats.JetStreamContext
	optionDataRepo *repository.OptionDataRepository
	tickerCache    *repository.TickerCacheRepository
	maxRetries     int
	handlerTimeout time.Duration
}

func NewTickerEventConsumer(js nats.JetStreamContext, optionDataRepo *repository.OptionDataRepository, tickerCache *repository.TickerCacheRepository, maxRetries int, handlerTimeout time.Duration) *TickerEventConsumer {
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}

	return &TickerEventConsumer{
		js:             js,
		optionDataRepo: optionDataRepo,
		tickerCache:    tickerCache,
		maxRetries:     maxRetries,
		handlerTimeout: handlerTimeout,
	}
}

func (c *TickerEventConsumer) Subscribe(ctx context.Context) error {
	_, err := c.js.QueueSubscribe(
		constant.TickerStreamSubjectAll,
		constant.TickerInsertQueueGroup,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(c.handlerTimeout, msg, c.handleTickerEvent)
			if err != nil {
				logrus.Errorf("error processing message: %v", err)
				return
			}

			err = msg.Ack()
			if err != nil {
				logrus.Errorf("failed to acknowledge message: %v", err)
				return
			}
		},
		nats.ManualAck(),
		nats.DeliverNew(),
	)

	return err
}

func (c *TickerEventConsumer) handleTickerEvent(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithFields(logrus.Fields{
		"req": string(msg.Data),
	})

	var event *entity.OptionTickerEvent
	err = json.Unmarshal(msg.Data, &event)
	if err != nil {
		logger.Error(err)
		return err
	}

	defer func() {
		if err != nil {
			event.RetryCount++
			if event.RetryCount >= c.maxRetries {
				return
			}

			err := util.PublishEvent(c.js, constant.GetTickerStreamSubject(event.Data.InstrumentName), event)
			if err != nil {
				logger.Error(err)
				return
			}
		}
	}()

	err = c.optionDataRepo.Append(ctx, &event.Data)
	if err != nil {
		logger.Error(err)
		return err
	}

	// cache refresh is best effort, a miss here never fails the insert
	if c.tickerCache != nil {
		if cacheErr := c.tickerCache.SetLatest(ctx, &event.Data); cacheErr != nil {
			logger.Warnf("failed to refresh latest ticker cache: %v", cacheErr)
		}
	}

	return nil
}
