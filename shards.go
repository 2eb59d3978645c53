package trackstream

import (
	"sync"

	"github.com/gokit/errors"
	"github.com/serialx/hashring"
)

var (
	// ErrNoReplica is returned when no replica owns a giving query.
	ErrNoReplica = errors.New("no replica available for query")
)

//**************************************
// ShardedCapability
//**************************************

var _ Capability = &ShardedCapability{}

// ShardedCapability implements the Capability interface over a set of
// replicas: observations and reads are routed to the replica owning the
// query's name on a consistent hash ring, so the same query always
// lands on the same replica while the set is stable. Writes fan out to
// every replica, completing once with the first error or the last
// successful value.
type ShardedCapability struct {
	rl       sync.RWMutex
	ring     *hashring.HashRing
	replicas map[string]Capability
}

// NewShardedCapability returns a new instance of ShardedCapability over
// the giving named replicas.
func NewShardedCapability(replicas map[string]Capability) *ShardedCapability {
	names := make([]string, 0, len(replicas))
	for name := range replicas {
		names = append(names, name)
	}

	set := make(map[string]Capability, len(replicas))
	for name, rep := range replicas {
		set[name] = rep
	}

	return &ShardedCapability{
		ring:     hashring.New(names),
		replicas: set,
	}
}

// AddReplica adds giving replica into the ring.
func (sc *ShardedCapability) AddReplica(name string, rep Capability) {
	sc.rl.Lock()
	sc.ring = sc.ring.AddNode(name)
	sc.replicas[name] = rep
	sc.rl.Unlock()
}

// RemoveReplica removes giving replica from the ring. Observations
// already routed to it are unaffected.
func (sc *ShardedCapability) RemoveReplica(name string) {
	sc.rl.Lock()
	sc.ring = sc.ring.RemoveNode(name)
	delete(sc.replicas, name)
	sc.rl.Unlock()
}

// Owner returns the name of the replica owning giving key.
func (sc *ShardedCapability) Owner(key string) (string, bool) {
	sc.rl.RLock()
	defer sc.rl.RUnlock()
	return sc.ring.GetNode(key)
}

// StartObservation routes the observation to the replica owning the
// query's name.
func (sc *ShardedCapability) StartObservation(q TrackedQuery, sched Scheduler, onError func(error), onChange func(interface{})) (Cancellable, error) {
	rep, err := sc.route(q.Name)
	if err != nil {
		return nil, err
	}
	return rep.StartObservation(q, sched, onError, onChange)
}

// Read routes the query to the replica owning its name.
func (sc *ShardedCapability) Read(q TrackedQuery, fn func(interface{}, error)) Cancellable {
	rep, err := sc.route(q.Name)
	if err != nil {
		fn(nil, err)
		return CancelFunc(nil)
	}
	return rep.Read(q, fn)
}

// Write applies the transaction on every replica, completing through fn
// exactly once when all replicas have completed.
func (sc *ShardedCapability) Write(tx Transaction, fn func(interface{}, error)) Cancellable {
	sc.rl.RLock()
	targets := make([]Capability, 0, len(sc.replicas))
	for _, rep := range sc.replicas {
		targets = append(targets, rep)
	}
	sc.rl.RUnlock()

	if len(targets) == 0 {
		fn(nil, errors.WrapOnly(ErrNoReplica))
		return CancelFunc(nil)
	}

	var wl sync.Mutex
	var firstErr error
	var lastValue interface{}
	remaining := len(targets)

	handles := make([]Cancellable, 0, len(targets))
	for _, rep := range targets {
		handles = append(handles, rep.Write(tx, func(v interface{}, err error) {
			wl.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if err == nil {
				lastValue = v
			}
			remaining--
			completed := remaining == 0
			doneErr, doneValue := firstErr, lastValue
			wl.Unlock()

			if !completed {
				return
			}
			if doneErr != nil {
				fn(nil, doneErr)
				return
			}
			fn(doneValue, nil)
		}))
	}

	return CancelAll(handles...)
}

func (sc *ShardedCapability) route(key string) (Capability, error) {
	sc.rl.RLock()
	defer sc.rl.RUnlock()

	name, ok := sc.ring.GetNode(key)
	if !ok {
		return nil, errors.Wrap(ErrNoReplica, "no ring owner for %q", key)
	}

	rep, ok := sc.replicas[name]
	if !ok {
		return nil, errors.Wrap(ErrNoReplica, "ring owner %q has no replica", name)
	}
	return rep, nil
}
