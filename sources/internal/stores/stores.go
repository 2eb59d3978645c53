// Package stores provides an in-memory Store and Bus used by the
// capability test suite shared across broker adapters.
package stores

import (
	"sync"

	"github.com/gokit/errors"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/sources"
)

// errors ...
var (
	// ErrNoRegion is returned for queries or writes naming no region.
	ErrNoRegion = errors.New("stores: at least one region is required")

	// ErrNoValue is returned for writes carrying no value argument.
	ErrNoValue = errors.New("stores: transaction carries no value")
)

//*****************************************************************************
// MemStore
//*****************************************************************************

var _ sources.Store = &MemStore{}

// MemStore implements the sources.Store interface over an in-memory
// region to value map: a transaction sets its first argument as the
// value of every region it touches, a query returns the value of its
// first region.
type MemStore struct {
	ml       sync.Mutex
	values   map[string]interface{}
	queryErr error
}

// NewMemStore returns a new instance of MemStore.
func NewMemStore() *MemStore {
	return &MemStore{values: map[string]interface{}{}}
}

// Set stores giving value under giving region directly.
func (m *MemStore) Set(region string, v interface{}) {
	m.ml.Lock()
	m.values[region] = v
	m.ml.Unlock()
}

// Get returns the value stored under giving region.
func (m *MemStore) Get(region string) interface{} {
	m.ml.Lock()
	defer m.ml.Unlock()
	return m.values[region]
}

// FailQueries makes every following Query fail with giving error. A
// nil error restores normal behaviour.
func (m *MemStore) FailQueries(err error) {
	m.ml.Lock()
	m.queryErr = err
	m.ml.Unlock()
}

// Query implements the sources.Store interface.
func (m *MemStore) Query(q trackstream.TrackedQuery) (interface{}, error) {
	m.ml.Lock()
	defer m.ml.Unlock()

	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if len(q.Regions) == 0 {
		return nil, errors.WrapOnly(ErrNoRegion)
	}
	return m.values[q.Regions[0]], nil
}

// Exec implements the sources.Store interface.
func (m *MemStore) Exec(tx trackstream.Transaction) (interface{}, error) {
	if len(tx.Regions) == 0 {
		return nil, errors.WrapOnly(ErrNoRegion)
	}
	if len(tx.Args) == 0 {
		return nil, errors.WrapOnly(ErrNoValue)
	}

	m.ml.Lock()
	for _, region := range tx.Regions {
		m.values[region] = tx.Args[0]
	}
	m.ml.Unlock()

	return tx.Args[0], nil
}

//*****************************************************************************
// MemBus
//*****************************************************************************

var _ sources.Bus = &MemBus{}

// MemBus implements the sources.Bus interface in memory, delivering
// notifications synchronously on the publisher's goroutine.
type MemBus struct {
	ml     sync.Mutex
	closed bool
	nextID int
	subs   map[string]map[int]func()
}

// NewMemBus returns a new instance of MemBus.
func NewMemBus() *MemBus {
	return &MemBus{subs: map[string]map[int]func(){}}
}

// Publish implements the sources.Bus interface.
func (b *MemBus) Publish(topic string) error {
	b.ml.Lock()
	if b.closed {
		b.ml.Unlock()
		return errors.New("stores: bus is closed")
	}

	handlers := make([]func(), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.ml.Unlock()

	for _, fn := range handlers {
		fn()
	}
	return nil
}

// Subscribe implements the sources.Bus interface.
func (b *MemBus) Subscribe(topic string, fn func()) (trackstream.Cancellable, error) {
	b.ml.Lock()
	defer b.ml.Unlock()

	if b.closed {
		return nil, errors.New("stores: bus is closed")
	}

	if b.subs[topic] == nil {
		b.subs[topic] = map[int]func(){}
	}

	id := b.nextID
	b.nextID++
	b.subs[topic][id] = fn

	return trackstream.CancelFunc(func() {
		b.ml.Lock()
		delete(b.subs[topic], id)
		b.ml.Unlock()
	}), nil
}

// Close implements the sources.Bus interface.
func (b *MemBus) Close() error {
	b.ml.Lock()
	b.closed = true
	b.subs = map[string]map[int]func(){}
	b.ml.Unlock()
	return nil
}
