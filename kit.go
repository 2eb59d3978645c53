package trackstream

//***************************************************************************
// TrackedQuery
//***************************************************************************

// TrackedQuery describes a query whose result should be recomputed and
// re-delivered whenever a write touches any of its regions. It is immutable
// once constructed; the zero value is not usable.
type TrackedQuery struct {
	Name      string
	Statement string
	Args      []interface{}

	// Regions lists the tables, key prefixes or topics whose changes
	// invalidate this query's last result.
	Regions []string
}

// NewTrackedQuery returns a TrackedQuery over the given statement and regions.
func NewTrackedQuery(name string, statement string, regions ...string) TrackedQuery {
	return TrackedQuery{
		Name:      name,
		Statement: statement,
		Regions:   regions,
	}
}

// WithArgs returns a copy of the query carrying the provided arguments.
func (q TrackedQuery) WithArgs(args ...interface{}) TrackedQuery {
	q.Args = args
	return q
}

//***************************************************************************
// Transaction
//***************************************************************************

// Transaction describes a single write to be applied under the capability's
// transactional write discipline. Immutable once constructed.
type Transaction struct {
	Statement string
	Args      []interface{}

	// Regions lists the regions this write touches, used to notify
	// observations tracking them.
	Regions []string
}

// NewTransaction returns a Transaction over the given statement and regions.
func NewTransaction(statement string, regions ...string) Transaction {
	return Transaction{
		Statement: statement,
		Regions:   regions,
	}
}

// WithArgs returns a copy of the transaction carrying the provided arguments.
func (t Transaction) WithArgs(args ...interface{}) Transaction {
	t.Args = args
	return t
}

//***********************************
//  Cancellable
//***********************************

// Cancellable represents a one-shot capability to stop some ongoing
// operation. Implementations must make Cancel idempotent: calling it more
// than once, or after the operation completed on its own, has no effect.
type Cancellable interface {
	Cancel()
}

//***********************************
//  Subscriber
//***********************************

// Subscriber receives the signals of one stream subscription.
//
// OnNext is called at most as many times as the subscriber has requested
// demand for. OnError and OnComplete are terminal: at most one of them is
// ever called, and nothing follows it.
type Subscriber interface {
	OnNext(interface{})
	OnError(error)
	OnComplete()
}

//***********************************
//  Subscription
//***********************************

// Subscription is the handle a subscriber uses to regulate and end one
// stream. All methods are safe for concurrent use and return immediately.
type Subscription interface {
	Identity

	// Request grants the stream permission to deliver the given amount
	// of further values. Zero demand is a no-op.
	Request(Demand)

	// Cancel ends the subscription. Idempotent.
	Cancel()
}

// Identity provides a method to return the unique id of a value.
type Identity interface {
	ID() string
}

//***********************************
//  Publisher
//***********************************

// Publisher builds independent subscriptions over the same stream
// description. Subscribe may be called any number of times; no side
// effects occur until the first Request on the returned subscription.
type Publisher interface {
	Subscribe(Subscriber) Subscription
}

//***********************************
//  Capability
//***********************************

// Capability is the database-side contract this package bridges. The
// engine behind it is free to invoke callbacks from any internal thread;
// blocking work happens behind it, never in this package.
type Capability interface {
	// StartObservation begins change tracking for the given query. The
	// returned handle stops further notifications. onChange may be invoked
	// zero or more times, possibly synchronously before StartObservation
	// returns; onError is invoked at most once and is terminal.
	StartObservation(q TrackedQuery, sched Scheduler, onError func(error), onChange func(interface{})) (Cancellable, error)

	// Write applies the transaction and completes exactly once through fn
	// with the write's result or error.
	Write(tx Transaction, fn func(interface{}, error)) Cancellable

	// Read evaluates the query once against current state and completes
	// exactly once through fn.
	Read(q TrackedQuery, fn func(interface{}, error)) Cancellable
}

//***********************************
//  Lifecycle events
//***********************************

// ObservationStarted is published when a subscription starts change
// tracking on its capability.
type ObservationStarted struct {
	ID    string
	Query string
}

// ObservationStopped is published when a subscription releases its
// observation handle, either on demand exhaustion or termination.
type ObservationStopped struct {
	ID    string
	Query string
}

// ValueDropped is published when a produced value arrives with no
// outstanding demand, or after the subscription finished, and is discarded.
type ValueDropped struct {
	ID string
}

// SubscriptionFinished is published once a subscription reaches its
// terminal state. Err is nil when finished by completion or cancellation.
type SubscriptionFinished struct {
	ID  string
	Err error
}
