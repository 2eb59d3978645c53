// Package sources provides real capability implementations: a Store
// executes queries and writes against a datastore while a Bus carries
// region-change notifications between capability instances, so every
// observation of a region sees every committed write that touches it.
package sources

import (
	"fmt"
	"sync"

	"github.com/gokit/errors"

	"github.com/gokit/trackstream"
)

// errors ...
var (
	// ErrNoStore is returned when a capability is built without a store.
	ErrNoStore = errors.New("sources: Store is required")

	// ErrNoBus is returned when a capability is built without a bus.
	ErrNoBus = errors.New("sources: Bus is required")
)

// DefaultNamespace prefixes region topics when no namespace is set.
const DefaultNamespace = "trackstream"

// RegionTopic returns the broker topic carrying change notifications
// for giving region under giving namespace.
func RegionTopic(namespace string, region string) string {
	return fmt.Sprintf("%s.%s", namespace, region)
}

//*****************************************************************************
// Store and Bus
//*****************************************************************************

// Store executes queries and writes against the actual datastore. Its
// methods are allowed to block: the capability keeps them off the
// caller's goroutine.
type Store interface {
	// Query evaluates the giving query against current state.
	Query(q trackstream.TrackedQuery) (interface{}, error)

	// Exec applies the giving transaction, returning its result.
	Exec(tx trackstream.Transaction) (interface{}, error)
}

// Bus carries region-change notifications. Implementations live under
// sources/<broker> and adapt one messaging system each.
type Bus interface {
	// Publish announces a change on giving topic. The notification
	// carries no payload: observers re-query the store on arrival.
	Publish(topic string) error

	// Subscribe invokes fn for every notification on giving topic, from
	// any goroutine the broker chooses. The returned handle ends the
	// subscription.
	Subscribe(topic string, fn func()) (trackstream.Cancellable, error)

	// Close releases the bus and all its subscriptions.
	Close() error
}

//*****************************************************************************
// typed errors
//*****************************************************************************

// OpError is the error type wrapping store failures, carrying the
// query or statement that failed.
type OpError struct {
	Err       error
	Statement string
}

// Error implements the error interface.
func (e OpError) Error() string {
	return e.Message()
}

// Message implements the trackstream.LogMessage interface.
func (e OpError) Message() string {
	return fmt.Sprintf("store operation failed for %q: %s", e.Statement, e.Err)
}

// SubscriptionError is the error type wrapping bus subscription
// failures for a region topic.
type SubscriptionError struct {
	Err   error
	Topic string
}

// Error implements the error interface.
func (e SubscriptionError) Error() string {
	return e.Message()
}

// Message implements the trackstream.LogMessage interface.
func (e SubscriptionError) Message() string {
	return fmt.Sprintf("subscription failed for topic %q: %s", e.Topic, e.Err)
}

// PublishError is the error type wrapping bus publish failures for a
// region topic.
type PublishError struct {
	Err   error
	Topic string
}

// Error implements the error interface.
func (e PublishError) Error() string {
	return e.Message()
}

// Message implements the trackstream.LogMessage interface.
func (e PublishError) Message() string {
	return fmt.Sprintf("publish failed for topic %q: %s", e.Topic, e.Err)
}

//*****************************************************************************
// Capability
//*****************************************************************************

// Config provides a config struct for instantiating a Capability.
type Config struct {
	// Store executes the actual queries and writes.
	Store Store

	// Bus carries region-change notifications.
	Bus Bus

	// Namespace prefixes all region topics, separating capability
	// groups sharing one broker.
	//
	// Defaults to DefaultNamespace.
	Namespace string

	// Log receives operational logs.
	//
	// Defaults to a drain.
	Log trackstream.Logs
}

func (c *Config) init() error {
	if c.Store == nil {
		return errors.WrapOnly(ErrNoStore)
	}
	if c.Bus == nil {
		return errors.WrapOnly(ErrNoBus)
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Log == nil {
		c.Log = &trackstream.DrainLog{}
	}
	return nil
}

var _ trackstream.Capability = &Capability{}

// Capability implements the trackstream.Capability interface over a
// Store and a Bus: observations re-query the store whenever a
// notification arrives on any of the query's region topics, and writes
// publish a notification per touched region after committing.
type Capability struct {
	config Config
	waiter sync.WaitGroup
}

// New returns a new instance of a Capability.
func New(config Config) (*Capability, error) {
	if err := config.init(); err != nil {
		return nil, err
	}
	return &Capability{config: config}, nil
}

// Wait blocks till all in-flight writes and reads have completed.
func (c *Capability) Wait() {
	c.waiter.Wait()
}

// StartObservation subscribes to every region topic of the query, then
// evaluates and delivers the current value synchronously before
// returning. Each later notification re-queries the store; a failed
// re-query terminates the observation through onError.
func (c *Capability) StartObservation(q trackstream.TrackedQuery, _ trackstream.Scheduler, onError func(error), onChange func(interface{})) (trackstream.Cancellable, error) {
	obs := &observation{
		query:    q,
		store:    c.config.Store,
		log:      c.config.Log,
		onError:  onError,
		onChange: onChange,
	}

	for _, region := range q.Regions {
		topic := RegionTopic(c.config.Namespace, region)
		sub, err := c.config.Bus.Subscribe(topic, obs.refresh)
		if err != nil {
			obs.stop()
			return nil, errors.WrapOnly(SubscriptionError{Err: err, Topic: topic})
		}
		obs.track(sub)
	}

	// first delivery happens before we return, on the caller's
	// goroutine, so immediate-first subscriptions see it in place.
	obs.refresh()
	return trackstream.CancelFunc(obs.stop), nil
}

// Write applies the transaction off the caller's goroutine, announces
// the touched regions on the bus and completes through fn. Cancel only
// suppresses the completion: the write itself is not rolled back.
func (c *Capability) Write(tx trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
	var cancelled trackstream.AtomicBool

	c.waiter.Add(1)
	go func() {
		defer c.waiter.Done()

		v, err := c.config.Store.Exec(tx)
		if err != nil {
			if !cancelled.IsTrue() {
				fn(nil, errors.WrapOnly(OpError{Err: err, Statement: tx.Statement}))
			}
			return
		}

		for _, region := range tx.Regions {
			topic := RegionTopic(c.config.Namespace, region)
			if perr := c.config.Bus.Publish(topic); perr != nil {
				c.config.Log.Emit(trackstream.ERROR, PublishError{Err: perr, Topic: topic})
			}
		}

		if !cancelled.IsTrue() {
			fn(v, nil)
		}
	}()

	return trackstream.CancelFunc(cancelled.On)
}

// Read evaluates the query off the caller's goroutine and completes
// through fn. Cancel suppresses the completion.
func (c *Capability) Read(q trackstream.TrackedQuery, fn func(interface{}, error)) trackstream.Cancellable {
	var cancelled trackstream.AtomicBool

	c.waiter.Add(1)
	go func() {
		defer c.waiter.Done()

		v, err := c.config.Store.Query(q)
		if cancelled.IsTrue() {
			return
		}
		if err != nil {
			fn(nil, errors.WrapOnly(OpError{Err: err, Statement: q.Statement}))
			return
		}
		fn(v, nil)
	}()

	return trackstream.CancelFunc(cancelled.On)
}

//*****************************************************************************
// observation
//*****************************************************************************

// observation is the live state behind one StartObservation call. Its
// refresh runs under a mutex so concurrent notifications from several
// region topics collapse into serialized re-queries. The subscription
// list lives behind a second lock: a handler may stop the observation
// from inside its own refresh.
type observation struct {
	query    trackstream.TrackedQuery
	store    Store
	log      trackstream.Logs
	onError  func(error)
	onChange func(interface{})

	stopped trackstream.AtomicBool

	ml sync.Mutex

	sl   sync.Mutex
	subs []trackstream.Cancellable
}

func (o *observation) refresh() {
	if o.stopped.IsTrue() {
		return
	}

	o.ml.Lock()
	defer o.ml.Unlock()
	if o.stopped.IsTrue() {
		return
	}

	v, err := o.store.Query(o.query)
	if err != nil {
		o.stop()

		failure := OpError{Err: err, Statement: o.query.Statement}
		o.log.Emit(trackstream.ERROR, failure)
		o.onError(errors.WrapOnly(failure))
		return
	}

	o.onChange(v)
}

// stop suppresses delivery immediately through the stopped flag and
// releases the broker subscriptions off the calling goroutine: a stop
// can originate from inside a notification handler, and some brokers
// block unsubscription until the handler returns.
func (o *observation) stop() {
	o.stopped.On()
	go cancelSubs(o.takeSubs())
}

// track keeps the subscription for release on stop. A notification may
// stop the observation while its sibling regions are still being
// subscribed, in which case the late subscription is released here.
func (o *observation) track(sub trackstream.Cancellable) {
	o.sl.Lock()
	if o.stopped.IsTrue() {
		o.sl.Unlock()
		sub.Cancel()
		return
	}
	o.subs = append(o.subs, sub)
	o.sl.Unlock()
}

func (o *observation) takeSubs() []trackstream.Cancellable {
	o.sl.Lock()
	subs := o.subs
	o.subs = nil
	o.sl.Unlock()
	return subs
}

func cancelSubs(subs []trackstream.Cancellable) {
	for _, sub := range subs {
		sub.Cancel()
	}
}
