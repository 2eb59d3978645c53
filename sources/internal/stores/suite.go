package stores

import (
	"errors"
	"testing"
	"time"

	"github.com/gokit/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/sources"
)

const suiteTimeout = 5 * time.Second

type result struct {
	value interface{}
	err   error
}

// Suite runs the capability contract against giving bus, so every
// broker adapter is exercised through the same flows. Each subtest
// works in its own namespace to keep topics apart on a shared broker.
func Suite(t *testing.T, bus sources.Bus) {
	t.Run("ReadReturnsCurrentValue", func(t *testing.T) {
		store, capability, query := newCapability(t, bus)
		store.Set(query.Regions[0], "v1")

		results := make(chan result, 1)
		capability.Read(query, func(v interface{}, err error) {
			results <- result{value: v, err: err}
		})

		got := await(t, results)
		require.NoError(t, got.err)
		assert.Equal(t, "v1", got.value)
	})

	t.Run("WriteAppliesAndCompletes", func(t *testing.T) {
		store, capability, query := newCapability(t, bus)

		results := make(chan result, 1)
		capability.Write(writeTo(query, "v2"), func(v interface{}, err error) {
			results <- result{value: v, err: err}
		})

		got := await(t, results)
		require.NoError(t, got.err)
		assert.Equal(t, "v2", got.value)
		assert.Equal(t, "v2", store.Get(query.Regions[0]))
	})

	t.Run("ObservationDeliversInitialValueSynchronously", func(t *testing.T) {
		store, capability, query := newCapability(t, bus)
		store.Set(query.Regions[0], "initial")

		var sync []interface{}
		handle, err := capability.StartObservation(query, nil, func(error) {}, func(v interface{}) {
			sync = append(sync, v)
		})
		require.NoError(t, err)
		defer handle.Cancel()

		require.Len(t, sync, 1)
		assert.Equal(t, "initial", sync[0])
	})

	t.Run("WriteNotifiesObservation", func(t *testing.T) {
		store, capability, query := newCapability(t, bus)
		store.Set(query.Regions[0], "before")

		values := make(chan interface{}, 4)
		handle, err := capability.StartObservation(query, nil, func(error) {}, func(v interface{}) {
			values <- v
		})
		require.NoError(t, err)
		defer handle.Cancel()

		assert.Equal(t, "before", awaitValue(t, values))

		capability.Write(writeTo(query, "after"), func(interface{}, error) {})
		assert.Equal(t, "after", awaitValue(t, values))
	})

	t.Run("FailedRequeryTerminatesObservation", func(t *testing.T) {
		store, capability, query := newCapability(t, bus)
		store.Set(query.Regions[0], "before")

		errs := make(chan error, 1)
		values := make(chan interface{}, 4)
		handle, err := capability.StartObservation(query, nil, func(oerr error) {
			errs <- oerr
		}, func(v interface{}) {
			values <- v
		})
		require.NoError(t, err)
		defer handle.Cancel()

		awaitValue(t, values)
		store.FailQueries(errors.New("store gone"))

		capability.Write(writeTo(query, "after"), func(interface{}, error) {})

		select {
		case oerr := <-errs:
			assert.Error(t, oerr)
		case <-time.After(suiteTimeout):
			t.Fatal("timed out waiting for observation error")
		}
	})

	t.Run("StopEndsNotifications", func(t *testing.T) {
		store, capability, query := newCapability(t, bus)
		store.Set(query.Regions[0], "before")

		values := make(chan interface{}, 4)
		handle, err := capability.StartObservation(query, nil, func(error) {}, func(v interface{}) {
			values <- v
		})
		require.NoError(t, err)

		awaitValue(t, values)
		handle.Cancel()

		results := make(chan result, 1)
		capability.Write(writeTo(query, "after"), func(v interface{}, werr error) {
			results <- result{value: v, err: werr}
		})
		require.NoError(t, await(t, results).err)

		select {
		case v := <-values:
			t.Fatalf("received value %v after stop", v)
		case <-time.After(500 * time.Millisecond):
		}
	})
}

// newCapability builds a capability over a fresh store and a unique
// namespace on the shared bus.
func newCapability(t *testing.T, bus sources.Bus) (*MemStore, *sources.Capability, trackstream.TrackedQuery) {
	store := NewMemStore()
	capability, err := sources.New(sources.Config{
		Store:     store,
		Bus:       bus,
		Namespace: "suite-" + xid.New().String(),
	})
	require.NoError(t, err)

	region := "region-" + xid.New().String()
	return store, capability, trackstream.NewTrackedQuery("view", "SELECT", region)
}

func writeTo(q trackstream.TrackedQuery, value interface{}) trackstream.Transaction {
	return trackstream.NewTransaction("SET", q.Regions...).WithArgs(value)
}

func await(t *testing.T, results <-chan result) result {
	select {
	case got := <-results:
		return got
	case <-time.After(suiteTimeout):
		t.Fatal("timed out waiting for completion")
		return result{}
	}
}

func awaitValue(t *testing.T, values <-chan interface{}) interface{} {
	select {
	case v := <-values:
		return v
	case <-time.After(suiteTimeout):
		t.Fatal("timed out waiting for value")
		return nil
	}
}
