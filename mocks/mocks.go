// Package mocks provides hand-written test doubles for the trackstream
// capability and subscriber contracts.
package mocks

import (
	"sync"
	"time"

	"github.com/gokit/errors"

	"github.com/gokit/trackstream"
)

// ErrNoObserver is returned when an emitter is used before any
// observation started on it.
var ErrNoObserver = errors.New("no active observer")

//***********************************
//  Emitter
//***********************************

// Emitter implements a controllable change observation: tests start it
// through a capability and then push values or a terminal error by hand,
// from whatever goroutine the test wants to simulate.
type Emitter struct {
	ml       sync.Mutex
	onChange func(interface{})
	onError  func(error)
	starts   int
	cancels  int
}

// Start wires the giving handlers as the active observer, returning the
// observation handle. It matches the shape needed by a capability's
// StartObservation.
func (e *Emitter) Start(onError func(error), onChange func(interface{})) (trackstream.Cancellable, error) {
	e.ml.Lock()
	e.onChange = onChange
	e.onError = onError
	e.starts++
	e.ml.Unlock()

	return trackstream.CancelFunc(func() {
		e.ml.Lock()
		e.onChange = nil
		e.onError = nil
		e.cancels++
		e.ml.Unlock()
	}), nil
}

// Emit pushes a fresh value into the active observer, if any.
func (e *Emitter) Emit(v interface{}) {
	e.ml.Lock()
	onChange := e.onChange
	e.ml.Unlock()

	if onChange != nil {
		onChange(v)
	}
}

// Fail pushes a terminal error into the active observer, if any.
func (e *Emitter) Fail(err error) {
	e.ml.Lock()
	onError := e.onError
	e.ml.Unlock()

	if onError != nil {
		onError(err)
	}
}

// Observing returns true/false if an observer is currently wired.
func (e *Emitter) Observing() bool {
	e.ml.Lock()
	defer e.ml.Unlock()
	return e.onChange != nil
}

// Starts returns how many observations were started on the emitter.
func (e *Emitter) Starts() int {
	e.ml.Lock()
	defer e.ml.Unlock()
	return e.starts
}

// Cancels returns how many observation handles were cancelled.
func (e *Emitter) Cancels() int {
	e.ml.Lock()
	defer e.ml.Unlock()
	return e.cancels
}

//***********************************
//  FuncCapability
//***********************************

var _ trackstream.Capability = &FuncCapability{}

// FuncCapability implements the trackstream.Capability interface through
// optional function fields, so each test supplies only the behaviour it
// exercises.
type FuncCapability struct {
	StartObservationFunc func(q trackstream.TrackedQuery, sched trackstream.Scheduler, onError func(error), onChange func(interface{})) (trackstream.Cancellable, error)
	WriteFunc            func(tx trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable
	ReadFunc             func(q trackstream.TrackedQuery, fn func(interface{}, error)) trackstream.Cancellable
}

// StartObservation calls StartObservationFunc if set.
func (f *FuncCapability) StartObservation(q trackstream.TrackedQuery, sched trackstream.Scheduler, onError func(error), onChange func(interface{})) (trackstream.Cancellable, error) {
	if f.StartObservationFunc == nil {
		return nil, errors.WrapOnly(ErrNoObserver)
	}
	return f.StartObservationFunc(q, sched, onError, onChange)
}

// Write calls WriteFunc if set.
func (f *FuncCapability) Write(tx trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
	if f.WriteFunc == nil {
		fn(nil, errors.WrapOnly(ErrNoObserver))
		return trackstream.CancelFunc(nil)
	}
	return f.WriteFunc(tx, fn)
}

// Read calls ReadFunc if set.
func (f *FuncCapability) Read(q trackstream.TrackedQuery, fn func(interface{}, error)) trackstream.Cancellable {
	if f.ReadFunc == nil {
		fn(nil, errors.WrapOnly(ErrNoObserver))
		return trackstream.CancelFunc(nil)
	}
	return f.ReadFunc(q, fn)
}

// ObservedCapability returns a FuncCapability whose observations are
// all wired to the giving emitter.
func ObservedCapability(e *Emitter) *FuncCapability {
	return &FuncCapability{
		StartObservationFunc: func(_ trackstream.TrackedQuery, _ trackstream.Scheduler, onError func(error), onChange func(interface{})) (trackstream.Cancellable, error) {
			return e.Start(onError, onChange)
		},
	}
}

//***********************************
//  Recorder
//***********************************

var _ trackstream.Subscriber = &Recorder{}

// Recorder implements the trackstream.Subscriber interface, recording
// every signal it receives and waking waiters on each.
type Recorder struct {
	// NextHook, when set, runs inside OnNext before the value is
	// recorded, for re-entrancy tests.
	NextHook func(interface{})

	ml        sync.Mutex
	cond      *sync.Cond
	values    []interface{}
	errs      []error
	completes int
}

// NewRecorder returns a new instance of Recorder.
func NewRecorder() *Recorder {
	r := new(Recorder)
	r.cond = sync.NewCond(&r.ml)
	return r
}

// OnNext implements the Subscriber interface.
func (r *Recorder) OnNext(v interface{}) {
	if r.NextHook != nil {
		r.NextHook(v)
	}

	r.ml.Lock()
	r.values = append(r.values, v)
	r.ml.Unlock()
	r.cond.Broadcast()
}

// OnError implements the Subscriber interface.
func (r *Recorder) OnError(err error) {
	r.ml.Lock()
	r.errs = append(r.errs, err)
	r.ml.Unlock()
	r.cond.Broadcast()
}

// OnComplete implements the Subscriber interface.
func (r *Recorder) OnComplete() {
	r.ml.Lock()
	r.completes++
	r.ml.Unlock()
	r.cond.Broadcast()
}

// Values returns a snapshot of received values.
func (r *Recorder) Values() []interface{} {
	r.ml.Lock()
	defer r.ml.Unlock()
	return append([]interface{}(nil), r.values...)
}

// Errs returns a snapshot of received errors.
func (r *Recorder) Errs() []error {
	r.ml.Lock()
	defer r.ml.Unlock()
	return append([]error(nil), r.errs...)
}

// Completes returns how many completion signals arrived.
func (r *Recorder) Completes() int {
	r.ml.Lock()
	defer r.ml.Unlock()
	return r.completes
}

// WaitValues blocks till at least n values arrived or the timeout
// elapsed, returning true/false for which happened.
func (r *Recorder) WaitValues(n int, timeout time.Duration) bool {
	return r.waitFor(timeout, func() bool { return len(r.values) >= n })
}

// WaitTerminal blocks till an error or completion arrived or the
// timeout elapsed, returning true/false for which happened.
func (r *Recorder) WaitTerminal(timeout time.Duration) bool {
	return r.waitFor(timeout, func() bool { return len(r.errs) > 0 || r.completes > 0 })
}

// waitFor polls the giving condition under the recorder's lock, with a
// timer goroutine breaking the wait when the deadline passes.
func (r *Recorder) waitFor(timeout time.Duration, ok func() bool) bool {
	deadline := time.Now().Add(timeout)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				r.cond.Broadcast()
			}
		}
	}()

	r.ml.Lock()
	defer r.ml.Unlock()
	for !ok() {
		if time.Now().After(deadline) {
			return false
		}
		r.cond.Wait()
	}
	return true
}
