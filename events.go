package trackstream

import "github.com/gokit/es"

// Eventer decorates the gokit es event stream for publishing and
// watching subscription lifecycle events.
type Eventer struct {
	es es.EventStream
}

// NewEventer returns an instance of an Eventer.
func NewEventer() *Eventer {
	return &Eventer{es: es.New()}
}

// Publish publishes a giving event. A nil Eventer drops the event,
// which lets lifecycle publishing stay optional without nil checks
// at every call site.
func (e *Eventer) Publish(m interface{}) {
	if e == nil {
		return
	}
	e.es.Publish(m)
}

// Watch adds giving function as a subscriber of all events, returning
// its subscription handle.
func (e *Eventer) Watch(fn func(interface{})) es.Subscription {
	return e.es.Subscribe(fn)
}

// WatchWith adds giving function as a subscriber of events accepted by
// the predicate.
func (e *Eventer) WatchWith(fn func(interface{}), predicate es.Predicate) es.Subscription {
	return e.es.Subscribe(fn).WithPredicate(predicate)
}
