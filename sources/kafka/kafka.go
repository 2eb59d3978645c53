// Package kafka implements the sources.Bus interface over Kafka
// topics: one topic per region, each subscription reading through its
// own consumer group so every observer sees every notification.
package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/gokit/errors"
	"github.com/gokit/xid"
	segment "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/sources"
)

// Config provides a config struct for instantiating a Bus type.
type Config struct {
	// Brokers lists the kafka broker addresses.
	//
	// Defaults to a single localhost broker.
	Brokers []string

	// MinMessageSize and MaxMessageSize bound reader fetches.
	MinMessageSize int
	MaxMessageSize int

	// DialTimeout bounds broker connection attempts.
	//
	// Defaults to 3 seconds.
	DialTimeout time.Duration

	// Dialer overrides the dialer used for readers and writers.
	Dialer *segment.Dialer

	// Balancer decides the partition of published notifications.
	//
	// Defaults to least-bytes balancing.
	Balancer segment.Balancer

	// Log receives operational logs.
	//
	// Defaults to a drain.
	Log trackstream.Logs
}

func (c *Config) init() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.MinMessageSize <= 0 {
		c.MinMessageSize = 1
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 10e6
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.Balancer == nil {
		c.Balancer = &segment.LeastBytes{}
	}
	if c.Log == nil {
		c.Log = &trackstream.DrainLog{}
	}
}

var _ sources.Bus = &Bus{}

// Bus implements the sources.Bus interface over kafka writers and
// readers, one writer per published topic and one reader per
// subscription.
type Bus struct {
	config   Config
	ctx      context.Context
	canceler func()
	waiter   sync.WaitGroup

	wl      sync.Mutex
	writers map[string]*segment.Writer
}

// NewBus returns a new instance of Bus, verifying at least one broker
// is reachable.
func NewBus(ctx context.Context, config Config) (*Bus, error) {
	config.init()

	dialer := config.Dialer
	if dialer == nil {
		dialer = segment.DefaultDialer
	}

	dctx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dctx, "tcp", config.Brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach kafka broker %q", config.Brokers[0])
	}
	conn.Close()

	b := &Bus{
		config:  config,
		writers: map[string]*segment.Writer{},
	}
	b.ctx, b.canceler = context.WithCancel(ctx)
	return b, nil
}

// Publish implements the sources.Bus interface.
func (b *Bus) Publish(topic string) error {
	writer := b.writer(topic)
	if err := writer.WriteMessages(b.ctx, segment.Message{Value: []byte("1")}); err != nil {
		return errors.WrapOnly(sources.PublishError{Err: err, Topic: topic})
	}
	return nil
}

// Subscribe implements the sources.Bus interface. The reader joins a
// fresh consumer group so it receives every notification published
// after it starts.
func (b *Bus) Subscribe(topic string, fn func()) (trackstream.Cancellable, error) {
	rconfig := segment.ReaderConfig{
		Brokers:  b.config.Brokers,
		Topic:    topic,
		GroupID:  "trackstream-" + xid.New().String(),
		MinBytes: b.config.MinMessageSize,
		MaxBytes: b.config.MaxMessageSize,
	}
	if b.config.Dialer != nil {
		rconfig.Dialer = b.config.Dialer
	}

	reader := segment.NewReader(rconfig)
	sctx, cancel := context.WithCancel(b.ctx)

	var errg errgroup.Group
	b.waiter.Add(1)
	errg.Go(func() error {
		defer b.waiter.Done()
		defer reader.Close()
		for {
			if _, err := reader.ReadMessage(sctx); err != nil {
				return err
			}
			fn()
		}
	})

	log := b.config.Log
	return trackstream.CancelFunc(func() {
		cancel()
		if err := errg.Wait(); err != nil && err != context.Canceled {
			log.Emit(trackstream.ERROR, trackstream.LogMsg("reader ended with failure").String("topic", topic).Error("error", err).Write())
		}
	}), nil
}

// Close implements the sources.Bus interface, closing all writers and
// waiting for every read loop to end.
func (b *Bus) Close() error {
	b.canceler()
	b.waiter.Wait()

	b.wl.Lock()
	writers := b.writers
	b.writers = map[string]*segment.Writer{}
	b.wl.Unlock()

	var lastErr error
	for topic, writer := range writers {
		if err := writer.Close(); err != nil {
			lastErr = errors.Wrap(err, "failed to close writer for %q", topic)
		}
	}
	return lastErr
}

func (b *Bus) writer(topic string) *segment.Writer {
	b.wl.Lock()
	defer b.wl.Unlock()

	if w, ok := b.writers[topic]; ok {
		return w
	}

	wconfig := segment.WriterConfig{
		Brokers:  b.config.Brokers,
		Topic:    topic,
		Balancer: b.config.Balancer,
	}
	if b.config.Dialer != nil {
		wconfig.Dialer = b.config.Dialer
	}

	w := segment.NewWriter(wconfig)
	b.writers[topic] = w
	return w
}
