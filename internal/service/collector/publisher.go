package collector

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/haritsf/deribit-collector/internal/constant"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/haritsf/deribit-collector/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// JetstreamPublisher is the gateway-mode sink: instead of inserting rows it
// publishes normalized ticker events for the worker to persist. created_at is
// left unset here, ingestion time belongs to the process that actually writes
// the row.
type JetstreamPublisher struct {
	js nats.JetStreamContext
}

func NewJetstreamPublisher(js nats.JetStreamContext) *JetstreamPublisher {
	return &JetstreamPublisher{js: js}
}

func (p *JetstreamPublisher) InitStream(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.TickerStreamName,
		Subjects:  []string{constant.TickerStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    5 * time.Minute,
		Replicas:  1,
	}

	stream, err := p.js.StreamInfo(constant.TickerStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.TickerStreamName)
		_, err = p.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.TickerStreamName)
	_, err = p.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	logrus.Infof("stream %s is ready", constant.TickerStreamName)

	return nil
}

func (p *JetstreamPublisher) Append(_ context.Context, ticker *entity.OptionTicker) error {
	if err := ticker.Validate(); err != nil {
		return err
	}

	event := entity.OptionTickerEvent{
		EventID: uuid.NewString(),
		Data:    *ticker,
	}

	return util.PublishEvent(p.js, constant.GetTickerStreamSubject(ticker.InstrumentName), event)
}
