package trackstream

import (
	"sync"

	"github.com/gokit/errors"
	"github.com/gokit/xid"
)

// errors ...
var (
	// ErrContractViolation is raised as a panic when a collaborator or
	// caller breaks a scheduling precondition. This is a programming
	// error, never an operational failure, so it is not recoverable.
	ErrContractViolation = errors.New("delivery contract violated")
)

//***********************************
//  lifecycle states
//***********************************

type subState uint8

const (
	waitingForDemand subState = iota
	observing
	finished
)

// String implements the Stringer interface.
func (s subState) String() string {
	switch s {
	case waitingForDemand:
		return "waiting-for-demand"
	case observing:
		return "observing"
	case finished:
		return "finished"
	}
	return "unknown"
}

//***********************************
//  StartFunc
//***********************************

// StartFunc starts the change observation backing one subscription,
// wiring the subscription's handlers to the capability. The concrete
// tracked query stays captured inside the closure, so subscriptions
// work over arbitrary query types without leaking them.
//
// A StartFunc may invoke onChange synchronously before it returns.
type StartFunc func(onError func(error), onChange func(interface{})) (Cancellable, error)

//***********************************
//  SubscriptionImpl
//***********************************

var _ Subscription = &SubscriptionImpl{}

// SubscriptionImpl implements the Subscription interface, bridging a
// push-style change observation to the demand-regulated stream contract.
//
// All state transitions happen under a single per-subscription lock
// whose critical section only touches the state enum, the demand counter
// and the observation handle. Subscriber callbacks are always invoked
// after the lock is released, so subscriber code may re-enter the
// subscription (for example Cancel from inside OnNext) without deadlock.
type SubscriptionImpl struct {
	id     xid.ID
	query  string
	start  StartFunc
	sched  Scheduler
	policy DeliveryPolicy
	sub    Subscriber
	log    Logs
	events *Eventer

	ml        sync.Mutex
	state     subState
	cancelled bool
	demand    *DemandCounter
	obs       Cancellable
	syncNext  bool
	delivered bool
}

// NewSubscription returns a subscription in the waiting-for-demand state.
// No side effect occurs until the first positive Request.
func NewSubscription(query string, start StartFunc, sched Scheduler, policy DeliveryPolicy, sub Subscriber, log Logs, events *Eventer) *SubscriptionImpl {
	if log == nil {
		log = &DrainLog{}
	}

	return &SubscriptionImpl{
		id:     xid.New(),
		query:  query,
		start:  start,
		sched:  sched,
		policy: policy,
		sub:    sub,
		log:    log,
		events: events,
		demand: NewDemandCounter(),
	}
}

// ID returns the unique id of giving subscription.
func (s *SubscriptionImpl) ID() string {
	return s.id.String()
}

// Request merges giving demand into the subscription. The first positive
// request starts the change observation; while observing, demand only
// accumulates; after the terminal state, requests are ignored.
func (s *SubscriptionImpl) Request(d Demand) {
	if d.IsNone() {
		return
	}

	s.ml.Lock()
	switch s.state {
	case finished:
		s.ml.Unlock()
		return
	case observing:
		s.demand.Add(d)
		s.ml.Unlock()
		return
	}

	wantSync := s.policy == ImmediateFirstDelivery && !s.delivered
	if wantSync && !s.sched.IsCurrent() {
		s.ml.Unlock()
		panic(errors.Wrap(ErrContractViolation, "immediate-first delivery requires requesting demand on the target scheduler"))
	}

	// Flip to observing before starting: the observation may call back
	// synchronously before the start call returns.
	s.demand = NewDemandCounter()
	s.demand.Add(d)
	s.state = observing
	s.syncNext = wantSync
	s.ml.Unlock()

	handle, err := s.start(s.onError, s.onChange)
	if err != nil {
		s.failStart(errors.Wrap(err, "failed to start observation for %q", s.query))
		return
	}

	s.log.Emit(DEBUG, LogMsg("observation started").String("id", s.ID()).String("query", s.query).Write())
	s.events.Publish(ObservationStarted{ID: s.ID(), Query: s.query})

	s.ml.Lock()
	if s.state == observing && s.obs == nil {
		s.obs = handle
		violated := s.syncNext
		s.ml.Unlock()

		if violated {
			panic(errors.Wrap(ErrContractViolation, "observation promised a synchronous first value for %q and delivered none", s.query))
		}
		return
	}

	// A synchronous callback already exhausted demand or finished the
	// subscription before the start call returned; the handle was never
	// stored, so release it here.
	s.ml.Unlock()
	if handle != nil {
		handle.Cancel()
		s.events.Publish(ObservationStopped{ID: s.ID(), Query: s.query})
	}
}

// Cancel ends the subscription and stops any active observation. It is
// idempotent and emits no subscriber signal.
func (s *SubscriptionImpl) Cancel() {
	s.ml.Lock()
	if s.state == finished {
		s.ml.Unlock()
		return
	}

	stopped := s.obs
	s.obs = nil
	s.state = finished
	s.cancelled = true
	s.ml.Unlock()

	if stopped != nil {
		stopped.Cancel()
		s.events.Publish(ObservationStopped{ID: s.ID(), Query: s.query})
	}

	s.log.Emit(DEBUG, LogMsg("subscription cancelled").String("id", s.ID()).Write())
	s.events.Publish(SubscriptionFinished{ID: s.ID()})
}

// onChange relays a freshly computed value, consuming one unit of
// demand. Values arriving with no outstanding demand, or after the
// subscription left the observing state, are dropped silently: the
// capability may race a callback against cancellation.
func (s *SubscriptionImpl) onChange(v interface{}) {
	s.ml.Lock()
	if s.state != observing {
		s.ml.Unlock()
		s.events.Publish(ValueDropped{ID: s.ID()})
		return
	}

	if !s.demand.ConsumeOne() {
		s.ml.Unlock()
		s.log.Emit(WARN, LogMsg("value arrived with no outstanding demand").String("id", s.ID()).Write())
		s.events.Publish(ValueDropped{ID: s.ID()})
		return
	}

	syncd := s.syncNext
	s.syncNext = false
	s.delivered = true

	// Demand exhausted: release the observation and fall back to waiting.
	// The capability offers no pause, so the next request restarts it.
	var stopped Cancellable
	if s.demand.Remaining().IsNone() {
		stopped = s.obs
		s.obs = nil
		s.state = waitingForDemand
	}
	s.ml.Unlock()

	if stopped != nil {
		stopped.Cancel()
		s.events.Publish(ObservationStopped{ID: s.ID(), Query: s.query})
	}

	if syncd {
		s.sub.OnNext(v)
		return
	}

	s.sched.Schedule(func() {
		// Only a consumer cancellation racing ahead of this queued
		// delivery discards it. A terminal error cannot: its signal is
		// queued behind this task, and the value already consumed demand.
		if s.isCancelled() {
			s.events.Publish(ValueDropped{ID: s.ID()})
			return
		}
		s.sub.OnNext(v)
	})
}

// onError relays a terminal error, cancelling the observation. Errors
// arriving outside the observing state are dropped.
func (s *SubscriptionImpl) onError(err error) {
	s.ml.Lock()
	if s.state != observing {
		s.ml.Unlock()
		return
	}

	syncd := s.syncNext
	s.syncNext = false
	stopped := s.obs
	s.obs = nil
	s.state = finished
	s.ml.Unlock()

	if stopped != nil {
		stopped.Cancel()
		s.events.Publish(ObservationStopped{ID: s.ID(), Query: s.query})
	}

	s.terminate(syncd, err)
}

// failStart terminates a subscription whose observation never began.
func (s *SubscriptionImpl) failStart(err error) {
	s.ml.Lock()
	if s.state != observing {
		s.ml.Unlock()
		return
	}

	syncd := s.syncNext
	s.syncNext = false
	s.state = finished
	s.ml.Unlock()

	s.terminate(syncd, err)
}

func (s *SubscriptionImpl) terminate(syncd bool, err error) {
	s.log.Emit(ERROR, LogMsg("subscription failed").String("id", s.ID()).Error("error", err).Write())

	if syncd {
		s.sub.OnError(err)
	} else {
		s.sched.Schedule(func() {
			s.sub.OnError(err)
		})
	}

	s.events.Publish(SubscriptionFinished{ID: s.ID(), Err: err})
}

func (s *SubscriptionImpl) isCancelled() bool {
	s.ml.Lock()
	defer s.ml.Unlock()
	return s.cancelled
}
