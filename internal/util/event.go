package util

import (
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

func PublishEvent(js nats.JetStreamContext, subject string, data any, opts ...nats.PubOpt) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = js.Publish(subject, payload, opts...)
	return err
}
