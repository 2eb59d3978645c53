// Package redis implements the sources.Bus interface over Redis
// pub/sub channels: one channel per region topic.
package redis

import (
	"sync"

	pubsub "github.com/go-redis/redis"
	"github.com/gokit/errors"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/sources"
)

// Config provides a config struct for instantiating a Bus type.
type Config struct {
	// Options for the underline redis client.
	Options pubsub.Options

	// Log receives operational logs.
	//
	// Defaults to a drain.
	Log trackstream.Logs
}

func (c *Config) init() {
	if c.Options.Addr == "" {
		c.Options.Addr = "localhost:6379"
	}
	if c.Log == nil {
		c.Log = &trackstream.DrainLog{}
	}
}

var _ sources.Bus = &Bus{}

// Bus implements the sources.Bus interface over a redis client.
type Bus struct {
	config Config
	c      *pubsub.Client
	waiter sync.WaitGroup
}

// NewBus returns a new instance of Bus, verifying the connection with
// a ping.
func NewBus(config Config) (*Bus, error) {
	config.init()

	client := pubsub.NewClient(&config.Options)
	if err := client.Ping().Err(); err != nil {
		return nil, errors.Wrap(err, "failed to reach redis server %q", config.Options.Addr)
	}

	return &Bus{config: config, c: client}, nil
}

// Publish implements the sources.Bus interface.
func (b *Bus) Publish(topic string) error {
	if err := b.c.Publish(topic, "1").Err(); err != nil {
		return errors.WrapOnly(sources.PublishError{Err: err, Topic: topic})
	}
	return nil
}

// Subscribe implements the sources.Bus interface. Each subscription
// runs its own receive loop over the channel's message stream.
func (b *Bus) Subscribe(topic string, fn func()) (trackstream.Cancellable, error) {
	sub := b.c.Subscribe(topic)

	// a first receive confirms the subscription is live before any
	// notification can be missed.
	if _, err := sub.Receive(); err != nil {
		sub.Close()
		return nil, errors.WrapOnly(sources.SubscriptionError{Err: err, Topic: topic})
	}

	stop := make(chan struct{})
	receiver := sub.Channel()

	b.waiter.Add(1)
	go func() {
		defer b.waiter.Done()
		for {
			select {
			case <-stop:
				return
			case _, ok := <-receiver:
				if !ok {
					return
				}
				fn()
			}
		}
	}()

	log := b.config.Log
	return trackstream.CancelFunc(func() {
		close(stop)
		if err := sub.Unsubscribe(topic); err != nil {
			log.Emit(trackstream.ERROR, trackstream.LogMsg("failed to unsubscribe").String("topic", topic).Error("error", err).Write())
		}
		if err := sub.Close(); err != nil {
			log.Emit(trackstream.ERROR, trackstream.LogMsg("failed to close subscription").String("topic", topic).Error("error", err).Write())
		}
	}), nil
}

// Close implements the sources.Bus interface, waiting for all receive
// loops to end.
func (b *Bus) Close() error {
	err := b.c.Close()
	b.waiter.Wait()
	return err
}
