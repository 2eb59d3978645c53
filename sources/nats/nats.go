// Package nats implements the sources.Bus interface over NATS
// subjects: one subject per region topic, notifications with no
// payload.
package nats

import (
	"github.com/gokit/errors"
	pubsub "github.com/nats-io/go-nats"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/sources"
)

// Config provides a config struct for instantiating a Bus type.
type Config struct {
	// URL of the NATS server.
	//
	// Defaults to pubsub.DefaultURL.
	URL string

	// Options to apply on the underline connection.
	Options []pubsub.Option

	// Log receives operational logs.
	//
	// Defaults to a drain.
	Log trackstream.Logs
}

func (c *Config) init() {
	if c.URL == "" {
		c.URL = pubsub.DefaultURL
	}
	if c.Log == nil {
		c.Log = &trackstream.DrainLog{}
	}
}

var _ sources.Bus = &Bus{}

// Bus implements the sources.Bus interface over a NATS connection.
type Bus struct {
	config Config
	c      *pubsub.Conn
}

// NewBus returns a new instance of Bus connected to the configured
// NATS server.
func NewBus(config Config) (*Bus, error) {
	config.init()

	config.Log.Emit(trackstream.DEBUG, trackstream.LogMsg("initiating nats connection").String("url", config.URL).Write())
	client, err := pubsub.Connect(config.URL, config.Options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to nats server %q", config.URL)
	}

	return &Bus{config: config, c: client}, nil
}

// Publish implements the sources.Bus interface. Notifications carry
// no payload: subscribers re-query on arrival.
func (b *Bus) Publish(topic string) error {
	if err := b.c.Publish(topic, nil); err != nil {
		return errors.WrapOnly(sources.PublishError{Err: err, Topic: topic})
	}
	return nil
}

// Subscribe implements the sources.Bus interface.
func (b *Bus) Subscribe(topic string, fn func()) (trackstream.Cancellable, error) {
	sub, err := b.c.Subscribe(topic, func(_ *pubsub.Msg) {
		fn()
	})
	if err != nil {
		return nil, errors.WrapOnly(sources.SubscriptionError{Err: err, Topic: topic})
	}

	log := b.config.Log
	return trackstream.CancelFunc(func() {
		if uerr := sub.Unsubscribe(); uerr != nil {
			log.Emit(trackstream.ERROR, trackstream.LogMsg("failed to unsubscribe").String("topic", topic).Error("error", uerr).Write())
		}
	}), nil
}

// Close implements the sources.Bus interface.
func (b *Bus) Close() error {
	b.c.Close()
	return nil
}
