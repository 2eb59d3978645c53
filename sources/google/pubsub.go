// Package google implements the sources.Bus interface over Google
// Cloud Pub/Sub topics.
package google

import (
	"context"
	"sync"

	pubsub "cloud.google.com/go/pubsub"
	"github.com/gokit/errors"
	"github.com/gokit/xid"
	"google.golang.org/api/option"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/sources"
)

// Config provides a config struct for instantiating a Bus type.
type Config struct {
	// ProjectID of the hosting cloud project.
	//
	// Defaults to "trackstream".
	ProjectID string

	// ClientOptions to apply on the underline pubsub client, such as
	// credentials or an emulator endpoint.
	ClientOptions []option.ClientOption

	// CreateMissingTopic makes Publish and Subscribe create topics
	// that do not exist yet.
	CreateMissingTopic bool

	// Log receives operational logs.
	//
	// Defaults to a drain.
	Log trackstream.Logs
}

func (c *Config) init() {
	if c.ProjectID == "" {
		c.ProjectID = "trackstream"
	}
	if c.Log == nil {
		c.Log = &trackstream.DrainLog{}
	}
}

var _ sources.Bus = &Bus{}

// Bus implements the sources.Bus interface over a cloud pubsub client.
type Bus struct {
	config   Config
	ctx      context.Context
	canceler func()
	c        *pubsub.Client
	waiter   sync.WaitGroup
}

// NewBus returns a new instance of Bus over giving project.
func NewBus(ctx context.Context, config Config) (*Bus, error) {
	config.init()

	bctx, canceler := context.WithCancel(ctx)
	client, err := pubsub.NewClient(bctx, config.ProjectID, config.ClientOptions...)
	if err != nil {
		canceler()
		return nil, errors.Wrap(err, "failed to create pubsub client for project %q", config.ProjectID)
	}

	return &Bus{
		config:   config,
		ctx:      bctx,
		canceler: canceler,
		c:        client,
	}, nil
}

// Publish implements the sources.Bus interface.
func (b *Bus) Publish(topic string) error {
	t, err := b.topic(topic)
	if err != nil {
		return errors.WrapOnly(sources.PublishError{Err: err, Topic: topic})
	}

	result := t.Publish(b.ctx, &pubsub.Message{Data: []byte("1")})
	if _, err := result.Get(b.ctx); err != nil {
		return errors.WrapOnly(sources.PublishError{Err: err, Topic: topic})
	}
	return nil
}

// Subscribe implements the sources.Bus interface. Each subscription
// gets its own pubsub subscription resource, removed again on cancel.
func (b *Bus) Subscribe(topic string, fn func()) (trackstream.Cancellable, error) {
	t, err := b.topic(topic)
	if err != nil {
		return nil, errors.WrapOnly(sources.SubscriptionError{Err: err, Topic: topic})
	}

	id := "trackstream-" + xid.New().String()
	sub, err := b.c.CreateSubscription(b.ctx, id, pubsub.SubscriptionConfig{Topic: t})
	if err != nil {
		return nil, errors.WrapOnly(sources.SubscriptionError{Err: err, Topic: topic})
	}

	sctx, cancel := context.WithCancel(b.ctx)
	log := b.config.Log

	b.waiter.Add(1)
	go func() {
		defer b.waiter.Done()
		rerr := sub.Receive(sctx, func(_ context.Context, m *pubsub.Message) {
			m.Ack()
			fn()
		})
		if rerr != nil && sctx.Err() == nil {
			log.Emit(trackstream.ERROR, trackstream.LogMsg("receive loop ended with failure").String("topic", topic).Error("error", rerr).Write())
		}
	}()

	return trackstream.CancelFunc(func() {
		cancel()
		if derr := sub.Delete(b.ctx); derr != nil {
			log.Emit(trackstream.ERROR, trackstream.LogMsg("failed to delete subscription").String("topic", topic).Error("error", derr).Write())
		}
	}), nil
}

// Close implements the sources.Bus interface.
func (b *Bus) Close() error {
	b.canceler()
	b.waiter.Wait()
	return b.c.Close()
}

// topic returns the handle of giving topic, creating it when allowed.
func (b *Bus) topic(topic string) (*pubsub.Topic, error) {
	t := b.c.Topic(topic)

	exists, err := t.Exists(b.ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return t, nil
	}

	if !b.config.CreateMissingTopic {
		return nil, errors.New("topic %q does not exist", topic)
	}

	created, err := b.c.CreateTopic(b.ctx, topic)
	if err != nil {
		return nil, err
	}
	return created, nil
}
