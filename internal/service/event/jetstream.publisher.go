package event

import (
	"context"
	"errors"
	"time"

	"github.com/krobus00/composite-order-service/internal/constant"
	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/krobus00/composite-order-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const defaultStreamMaxAge = 24 * time.Hour

// JetstreamPublisher publishes every lifecycle event on composite_order.<event type>.
type JetstreamPublisher struct {
	js     nats.JetStreamContext
	maxAge time.Duration
}

func NewJetstreamPublisher(js nats.JetStreamContext, maxAge time.Duration) *JetstreamPublisher {
	if maxAge <= 0 {
		maxAge = defaultStreamMaxAge
	}
	return &JetstreamPublisher{js: js, maxAge: maxAge}
}

func (p *JetstreamPublisher) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.CompositeOrderStreamName,
		Subjects:  []string{constant.CompositeOrderStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    p.maxAge,
		Replicas:  1,
	}

	stream, err := p.js.StreamInfo(constant.CompositeOrderStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.CompositeOrderStreamName)
		_, err = p.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.CompositeOrderStreamName)
	_, err = p.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	logrus.Infof("stream %s is ready", constant.CompositeOrderStreamName)

	return nil
}

func (p *JetstreamPublisher) OnCompositeOrderEvent(ctx context.Context, event entity.CompositeOrderEvent) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// the event id doubles as the jetstream message id so redeliveries are deduplicated
	return util.PublishEvent(p.js, constant.GetCompositeOrderStreamSubject(string(event.Type)), event, nats.MsgId(event.ID))
}
