package trackstream

import (
	"sync"

	"github.com/gokit/errors"
	"github.com/gokit/xid"
)

//***********************************
//  operations
//***********************************

// opFunc submits a single-shot capability operation, completing exactly
// once through done. The returned handle stops delivery of the result.
type opFunc func(done func(interface{}, error)) Cancellable

//***********************************
//  SinglePublisher
//***********************************

var _ Publisher = &SinglePublisher{}

// SinglePublisher implements the Publisher interface for single-shot
// database operations: each subscription delivers at most one value
// followed by a completion signal, or a single terminal error. It reuses
// the demand and cancellation contract of tracked subscriptions, without
// change tracking: the operation fires once, on first positive demand.
type SinglePublisher struct {
	op    opFunc
	sched Scheduler
	log   Logs
}

// PublishWrite wraps the giving transaction as a single-value stream:
// the write is submitted on first positive demand and its result is the
// stream's only element.
func PublishWrite(source Capability, tx Transaction, sched Scheduler) *SinglePublisher {
	return &SinglePublisher{
		sched: sched,
		log:   &DrainLog{},
		op: func(done func(interface{}, error)) Cancellable {
			return source.Write(tx, done)
		},
	}
}

// PublishRead wraps a one-off evaluation of the giving query as a
// single-value stream.
func PublishRead(source Capability, q TrackedQuery, sched Scheduler) *SinglePublisher {
	return &SinglePublisher{
		sched: sched,
		log:   &DrainLog{},
		op: func(done func(interface{}, error)) Cancellable {
			return source.Read(q, done)
		},
	}
}

// PublishWriteThenRead composes a write with a read of the committed
// state into one logical operation: the stream's element is the read's
// result. A write failure short-circuits, and the read never runs.
func PublishWriteThenRead(source Capability, tx Transaction, q TrackedQuery, sched Scheduler) *SinglePublisher {
	return &SinglePublisher{
		sched: sched,
		log:   &DrainLog{},
		op: func(done func(interface{}, error)) Cancellable {
			var hl sync.Mutex
			var read Cancellable

			write := source.Write(tx, func(_ interface{}, err error) {
				if err != nil {
					done(nil, err)
					return
				}

				rh := source.Read(q, done)
				hl.Lock()
				read = rh
				hl.Unlock()
			})

			return CancelFunc(func() {
				write.Cancel()
				hl.Lock()
				rh := read
				hl.Unlock()
				if rh != nil {
					rh.Cancel()
				}
			})
		},
	}
}

// WithLogs returns a derived publisher emitting logs into giving Logs.
func (p *SinglePublisher) WithLogs(log Logs) *SinglePublisher {
	derived := *p
	derived.log = log
	return &derived
}

// Subscribe builds a fresh single-shot subscription wired to the giving
// subscriber. The operation is not submitted until demand arrives.
func (p *SinglePublisher) Subscribe(sub Subscriber) Subscription {
	return &SingleSubscription{
		id:     xid.New(),
		op:     p.op,
		sched:  p.sched,
		sub:    sub,
		log:    p.log,
		demand: NewDemandCounter(),
	}
}

//***********************************
//  SingleSubscription
//***********************************

var _ Subscription = &SingleSubscription{}

// SingleSubscription implements the Subscription interface for one
// single-shot operation. Demand requests arriving while the operation
// is in flight accumulate without resubmitting it: the operation
// executes exactly once regardless of how demand arrives.
type SingleSubscription struct {
	id    xid.ID
	op    opFunc
	sched Scheduler
	sub   Subscriber
	log   Logs

	cancelled AtomicBool

	ml      sync.Mutex
	state   subState
	demand  *DemandCounter
	pending Cancellable
}

// ID returns the unique id of giving subscription.
func (s *SingleSubscription) ID() string {
	return s.id.String()
}

// Request merges giving demand; the first positive request submits the
// operation exactly once.
func (s *SingleSubscription) Request(d Demand) {
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

	s.demand.Add(d)
	s.state = observing
	s.ml.Unlock()

	handle := s.op(s.done)

	s.ml.Lock()
	if s.state == observing && s.pending == nil {
		s.pending = handle
		s.ml.Unlock()
		return
	}
	s.ml.Unlock()

	// Completed synchronously before the submit call returned.
	if handle != nil {
		handle.Cancel()
	}
}

// Cancel ends the subscription, stopping result delivery. Idempotent.
func (s *SingleSubscription) Cancel() {
	s.cancelled.On()

	s.ml.Lock()
	if s.state == finished {
		s.ml.Unlock()
		return
	}

	stopped := s.pending
	s.pending = nil
	s.state = finished
	s.ml.Unlock()

	if stopped != nil {
		stopped.Cancel()
	}
}

// done receives the operation's completion. The value and the
// completion signal are queued as one task so no other signal can
// interleave between them.
func (s *SingleSubscription) done(v interface{}, err error) {
	s.ml.Lock()
	if s.state != observing {
		s.ml.Unlock()
		return
	}

	if err == nil && !s.demand.ConsumeOne() {
		// Demand can only have grown since the submitting request, so a
		// failed consume means the operation completed more than once.
		s.ml.Unlock()
		s.log.Emit(WARN, LogMsg("operation completed with no outstanding demand").String("id", s.ID()).Write())
		return
	}

	s.pending = nil
	s.state = finished
	s.ml.Unlock()

	if err != nil {
		wrapped := errors.WrapOnly(err)
		s.log.Emit(ERROR, LogMsg("operation failed").String("id", s.ID()).Error("error", err).Write())
		s.sched.Schedule(func() {
			if s.cancelled.IsTrue() {
				return
			}
			s.sub.OnError(wrapped)
		})
		return
	}

	s.sched.Schedule(func() {
		if s.cancelled.IsTrue() {
			return
		}
		s.sub.OnNext(v)
		s.sub.OnComplete()
	})
}
