package trackstream

import (
	"github.com/gokit/es"
	"github.com/gokit/xid"
)

//***********************************
//  TrackedPublisher
//***********************************

var _ Publisher = &TrackedPublisher{}

// TrackedPublisher implements the Publisher interface over a tracked
// query and a capability. It is stateless apart from its immutable
// (query, capability, policy) triple and may be shared freely: each
// Subscribe call yields a fresh, independent subscription.
type TrackedPublisher struct {
	id     xid.ID
	query  TrackedQuery
	source Capability
	sched  Scheduler
	policy DeliveryPolicy
	log    Logs
	events *Eventer
}

// PublishTracked returns a publisher delivering every fresh result of
// the giving query on the giving scheduler. Delivery defaults to
// AsyncDelivery.
func PublishTracked(query TrackedQuery, source Capability, sched Scheduler) *TrackedPublisher {
	return &TrackedPublisher{
		id:     xid.New(),
		query:  query,
		source: source,
		sched:  sched,
		policy: AsyncDelivery,
		log:    &DrainLog{},
		events: NewEventer(),
	}
}

// WithImmediateFirst returns a derived publisher whose subscriptions
// deliver their first value synchronously, provided demand is requested
// on the target scheduler. The receiver is left untouched.
func (p *TrackedPublisher) WithImmediateFirst() *TrackedPublisher {
	derived := *p
	derived.policy = ImmediateFirstDelivery
	return &derived
}

// WithLogs returns a derived publisher emitting logs into giving Logs.
func (p *TrackedPublisher) WithLogs(log Logs) *TrackedPublisher {
	derived := *p
	derived.log = log
	return &derived
}

// ID returns the unique id of giving publisher.
func (p *TrackedPublisher) ID() string {
	return p.id.String()
}

// Policy returns the delivery policy subscriptions will use.
func (p *TrackedPublisher) Policy() DeliveryPolicy {
	return p.policy
}

// Watch adds giving function as a watcher of the lifecycle events of
// all subscriptions built by this publisher (and those derived from it).
func (p *TrackedPublisher) Watch(fn func(interface{})) es.Subscription {
	return p.events.Watch(fn)
}

// Subscribe builds a fresh subscription wired to the giving subscriber.
// The concrete query type never crosses the Subscription interface: it
// stays captured inside the subscription's start closure.
func (p *TrackedPublisher) Subscribe(sub Subscriber) Subscription {
	start := func(onError func(error), onChange func(interface{})) (Cancellable, error) {
		return p.source.StartObservation(p.query, p.sched, onError, onChange)
	}
	return NewSubscription(p.query.Name, start, p.sched, p.policy, sub, p.log, p.events)
}
