package trackstream_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/mocks"
)

func TestCircuitCapabilityTripsOnFailures(t *testing.T) {
	var writes int
	failing := &mocks.FuncCapability{
		WriteFunc: func(_ trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
			writes++
			fn(nil, errors.New("engine down"))
			return trackstream.CancelFunc(nil)
		},
	}

	circuit := trackstream.NewCircuitCapability("orders-db", failing, trackstream.Circuit{
		MaxFailures: 2,
		MinCoolDown: time.Hour,
	}, nil)

	for i := 0; i < 2; i++ {
		circuit.Write(insertOrder, func(interface{}, error) {})
	}
	require.True(t, circuit.Breaker().IsOpened())

	var gotErr error
	circuit.Write(insertOrder, func(_ interface{}, err error) {
		gotErr = err
	})

	assert.Equal(t, 2, writes)
	assert.Error(t, gotErr)
}

func TestCircuitCapabilityDeclinesObservationsWhileOpen(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	emitter := new(mocks.Emitter)
	source := mocks.ObservedCapability(emitter)
	source.WriteFunc = func(_ trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
		fn(nil, errors.New("engine down"))
		return trackstream.CancelFunc(nil)
	}

	circuit := trackstream.NewCircuitCapability("orders-db", source, trackstream.Circuit{
		MaxFailures: 1,
		MinCoolDown: time.Hour,
	}, nil)

	circuit.Write(insertOrder, func(interface{}, error) {})
	require.True(t, circuit.Breaker().IsOpened())

	_, err := circuit.StartObservation(ordersQuery, queue, func(error) {}, func(interface{}) {})
	assert.Error(t, err)
	assert.Equal(t, 0, emitter.Starts())
}

func TestCircuitBreakerClosesAfterCoolDown(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	var trips, closes int
	breaker := trackstream.NewCircuitBreaker("orders-db", trackstream.Circuit{
		MaxFailures:     1,
		HalfOpenSuccess: 1,
		MinCoolDown:     10 * time.Second,
		Now:             clock,
		OnTrip:          func(string, error) { trips++ },
		OnClose:         func(string, time.Duration) { closes++ },
	})

	breaker.RecordFailure(errors.New("engine down"))
	require.True(t, breaker.IsOpened())
	require.Equal(t, 1, trips)

	// still cooling down.
	assert.False(t, breaker.Allow())

	// past the cool-down a probe is admitted; its success closes.
	now = now.Add(11 * time.Second)
	require.True(t, breaker.Allow())
	breaker.RecordSuccess()

	assert.False(t, breaker.IsOpened())
	assert.Equal(t, 1, closes)
	assert.True(t, breaker.Allow())
}

func TestCircuitBreakerFailedProbeExtendsCoolDown(t *testing.T) {
	now := time.Now()

	breaker := trackstream.NewCircuitBreaker("orders-db", trackstream.Circuit{
		MaxFailures:     1,
		HalfOpenSuccess: 1,
		MinCoolDown:     10 * time.Second,
		MaxCoolDown:     30 * time.Second,
		Now:             func() time.Time { return now },
	})

	breaker.RecordFailure(errors.New("engine down"))
	require.True(t, breaker.IsOpened())

	now = now.Add(11 * time.Second)
	require.True(t, breaker.Allow())
	breaker.RecordFailure(errors.New("still down"))

	now = now.Add(11 * time.Second)
	require.True(t, breaker.Allow())
	breaker.RecordFailure(errors.New("still down"))

	// two failed probes grow the wait to twice the minimum cool-down.
	now = now.Add(11 * time.Second)
	assert.False(t, breaker.Allow())

	now = now.Add(10 * time.Second)
	assert.True(t, breaker.Allow())
}

func TestCircuitBreakerIgnoresUntriggeredErrors(t *testing.T) {
	breaker := trackstream.NewCircuitBreaker("orders-db", trackstream.Circuit{
		MaxFailures: 1,
		CanTrigger: func(err error) bool {
			return err.Error() != "benign"
		},
	})

	breaker.RecordFailure(errors.New("benign"))
	assert.False(t, breaker.IsOpened())

	breaker.RecordFailure(errors.New("fatal"))
	assert.True(t, breaker.IsOpened())
}
