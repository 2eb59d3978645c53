package trackstream

import (
	"sync"
	"time"

	"github.com/gokit/errors"
)

var (
	// ErrOpenedCircuit is returned when circuit breaker is in opened state.
	ErrOpenedCircuit = errors.New("circuit is opened")
)

//***********************************************************
// Circuit
//***********************************************************

// Circuit defines configuration values which will be used
// by CircuitBreaker for its operations.
type Circuit struct {
	// MaxFailures sets giving maximum failure threshold allowed
	// before circuit enters open state.
	//
	// Defaults to 5.
	MaxFailures int64

	// HalfOpenSuccess sets giving minimum successful calls through the
	// circuit before re-entering closed state.
	//
	// Defaults to 1.
	HalfOpenSuccess int64

	// MinCoolDown sets minimum time for circuit to be in open state
	// before we allow another attempt into half open state.
	//
	// Defaults to 15 seconds.
	MinCoolDown time.Duration

	// MaxCoolDown sets maximum time to allow circuit to be in open state
	// before allowing another attempt.
	//
	// Defaults to 60 seconds.
	MaxCoolDown time.Duration

	// Now provides a function which can be used to provide
	// the next time (time.Time).
	//
	// Defaults to time.Now.
	Now func() time.Time

	// CanTrigger defines a function to be called to verify if
	// giving error falls under errors that count against
	// the circuit breaker and can cause circuit tripping.
	//
	// Defaults to a function that always returns true.
	CanTrigger func(error) bool

	// OnTrip sets giving callback to be called every time circuit
	// is tripped into open state.
	OnTrip func(name string, lastError error)

	// OnClose sets giving callback to be called on when
	// circuit entering closed state.
	OnClose func(name string, lastCoolDown time.Duration)

	// OnHalfOpen sets giving callback to be called every time
	// circuit enters half open state.
	OnHalfOpen func(name string, lastCoolDown time.Duration, lastOpenedTime time.Time)
}

func (c *Circuit) init() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}

	if c.HalfOpenSuccess <= 0 {
		c.HalfOpenSuccess = 1
	}

	if c.MinCoolDown <= 0 {
		c.MinCoolDown = 15 * time.Second
	}

	if c.MaxCoolDown <= 0 {
		c.MaxCoolDown = 60 * time.Second
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	if c.CanTrigger == nil {
		c.CanTrigger = func(error) bool {
			return true
		}
	}
}

//***********************************************************
// CircuitBreaker
//***********************************************************

// CircuitBreaker implements the circuit breaker pattern for submissions
// against a capability whose completion arrives asynchronously: callers
// gate submissions through Allow and report outcomes through
// RecordSuccess/RecordFailure as completions come in.
type CircuitBreaker struct {
	name    string
	circuit Circuit

	tl           sync.Mutex
	lastOpened   time.Time
	nextCoolDown AtomicCounter

	isOpened        AtomicBool
	currentFailures AtomicCounter

	halfOpenedPasses        AtomicCounter
	currentHalfOpenFailures AtomicCounter
}

// NewCircuitBreaker returns a new instance of CircuitBreaker.
func NewCircuitBreaker(name string, circuit Circuit) *CircuitBreaker {
	circuit.init()

	return &CircuitBreaker{
		name:    name,
		circuit: circuit,
	}
}

// IsOpened returns true/false if circuit is in opened state.
func (cb *CircuitBreaker) IsOpened() bool {
	return cb.isOpened.IsTrue()
}

// Allow reports whether a submission may proceed. While opened, it
// admits a probe once the current cool-down has elapsed, entering the
// half open state.
func (cb *CircuitBreaker) Allow() bool {
	if !cb.isOpened.IsTrue() {
		return true
	}

	cb.tl.Lock()
	past := cb.circuit.Now().Sub(cb.lastOpened)
	nextCool := cb.nextCoolDown.GetDuration()

	if past < nextCool {
		cb.tl.Unlock()
		return false
	}

	cb.lastOpened = cb.circuit.Now()
	cb.tl.Unlock()

	if cb.circuit.OnHalfOpen != nil {
		cb.circuit.OnHalfOpen(cb.name, nextCool, cb.lastOpened)
	}
	return true
}

// RecordSuccess counts a successful completion, closing the circuit
// after enough half-open probes pass.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.isOpened.IsTrue() {
		return
	}

	cb.halfOpenedPasses.Inc()
	if cb.halfOpenedPasses.Get() < cb.circuit.HalfOpenSuccess {
		return
	}

	lastCool := cb.nextCoolDown.GetDuration()
	cb.isOpened.Off()
	cb.currentFailures.Set(0)
	cb.halfOpenedPasses.Set(0)
	cb.currentHalfOpenFailures.Set(0)
	cb.nextCoolDown.Set(cb.circuit.MinCoolDown.Nanoseconds())

	if cb.circuit.OnClose != nil {
		cb.circuit.OnClose(cb.name, lastCool)
	}
}

// RecordFailure counts a failed completion, possibly tripping the
// circuit into the open state or extending its cool-down.
func (cb *CircuitBreaker) RecordFailure(err error) {
	if !cb.circuit.CanTrigger(err) {
		return
	}

	if cb.isOpened.IsTrue() {
		cb.currentHalfOpenFailures.Inc()
		cb.halfOpenedPasses.Set(0)

		nextCool := cb.circuit.MinCoolDown * cb.currentHalfOpenFailures.GetDuration()
		if nextCool > cb.circuit.MaxCoolDown {
			nextCool = cb.circuit.MaxCoolDown
		}

		cb.tl.Lock()
		cb.lastOpened = cb.circuit.Now()
		cb.tl.Unlock()
		cb.nextCoolDown.Set(nextCool.Nanoseconds())

		if cb.circuit.OnTrip != nil {
			cb.circuit.OnTrip(cb.name, err)
		}
		return
	}

	cb.currentFailures.Inc()
	if cb.currentFailures.Get() < cb.circuit.MaxFailures {
		return
	}

	cb.isOpened.On()
	cb.halfOpenedPasses.Set(0)
	cb.currentHalfOpenFailures.Set(0)
	cb.nextCoolDown.Set(cb.circuit.MinCoolDown.Nanoseconds())

	cb.tl.Lock()
	cb.lastOpened = cb.circuit.Now()
	cb.tl.Unlock()

	if cb.circuit.OnTrip != nil {
		cb.circuit.OnTrip(cb.name, err)
	}
}

//***********************************************************
// CircuitCapability
//***********************************************************

var _ Capability = &CircuitCapability{}

// CircuitCapability implements a circuit breaker Capability wrapper:
// once the wrapped capability fails often enough, further observations,
// writes and reads are declined immediately with ErrOpenedCircuit until
// the circuit cools down.
type CircuitCapability struct {
	source  Capability
	breaker *CircuitBreaker
	log     Logs
}

// NewCircuitCapability returns a new instance of a CircuitCapability.
func NewCircuitCapability(name string, source Capability, circuit Circuit, log Logs) *CircuitCapability {
	if log == nil {
		log = &DrainLog{}
	}

	return &CircuitCapability{
		source:  source,
		breaker: NewCircuitBreaker(name, circuit),
		log:     log,
	}
}

// Breaker returns the underline circuit breaker.
func (cc *CircuitCapability) Breaker() *CircuitBreaker {
	return cc.breaker
}

// StartObservation starts change tracking through the circuit. A failed
// start and every terminal observation error count against the circuit.
func (cc *CircuitCapability) StartObservation(q TrackedQuery, sched Scheduler, onError func(error), onChange func(interface{})) (Cancellable, error) {
	if !cc.breaker.Allow() {
		cc.log.Emit(WARN, LogMsg("observation declined by opened circuit").String("query", q.Name).Write())
		return nil, errors.WrapOnly(ErrOpenedCircuit)
	}

	handle, err := cc.source.StartObservation(q, sched, func(oerr error) {
		cc.breaker.RecordFailure(oerr)
		onError(oerr)
	}, func(v interface{}) {
		cc.breaker.RecordSuccess()
		onChange(v)
	})

	if err != nil {
		cc.breaker.RecordFailure(err)
		return nil, err
	}
	return handle, nil
}

// Write submits the transaction through the circuit, completing with
// ErrOpenedCircuit without touching the capability while opened.
func (cc *CircuitCapability) Write(tx Transaction, fn func(interface{}, error)) Cancellable {
	if !cc.breaker.Allow() {
		fn(nil, errors.WrapOnly(ErrOpenedCircuit))
		return CancelFunc(nil)
	}

	return cc.source.Write(tx, func(v interface{}, err error) {
		cc.record(err)
		fn(v, err)
	})
}

// Read evaluates the query through the circuit, completing with
// ErrOpenedCircuit without touching the capability while opened.
func (cc *CircuitCapability) Read(q TrackedQuery, fn func(interface{}, error)) Cancellable {
	if !cc.breaker.Allow() {
		fn(nil, errors.WrapOnly(ErrOpenedCircuit))
		return CancelFunc(nil)
	}

	return cc.source.Read(q, func(v interface{}, err error) {
		cc.record(err)
		fn(v, err)
	})
}

func (cc *CircuitCapability) record(err error) {
	if err != nil {
		cc.breaker.RecordFailure(err)
		return
	}
	cc.breaker.RecordSuccess()
}
