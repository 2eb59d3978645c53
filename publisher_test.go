package trackstream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/mocks"
)

func TestPublisherNoSideEffectsBeforeDemand(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	emitter := new(mocks.Emitter)
	pub := trackstream.PublishTracked(ordersQuery, mocks.ObservedCapability(emitter), queue)

	pub.Subscribe(mocks.NewRecorder())
	pub.Subscribe(mocks.NewRecorder())

	assert.Equal(t, 0, emitter.Starts())
}

func TestPublisherSubscriptionsAreIndependent(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	// each subscription gets its own observer, so we track them apart.
	observers := make([]*mocks.Emitter, 0)
	capability := &mocks.FuncCapability{
		StartObservationFunc: func(_ trackstream.TrackedQuery, _ trackstream.Scheduler, onError func(error), onChange func(interface{})) (trackstream.Cancellable, error) {
			em := new(mocks.Emitter)
			observers = append(observers, em)
			return em.Start(onError, onChange)
		},
	}

	pub := trackstream.PublishTracked(ordersQuery, capability, queue)

	first := mocks.NewRecorder()
	second := mocks.NewRecorder()

	subA := pub.Subscribe(first)
	subB := pub.Subscribe(second)
	assert.NotEqual(t, subA.ID(), subB.ID())

	subA.Request(trackstream.DemandOf(1))
	subB.Request(trackstream.DemandOf(1))
	require.Len(t, observers, 2)

	observers[0].Emit("for-a")
	observers[1].Emit("for-b")

	require.True(t, first.WaitValues(1, time.Second))
	require.True(t, second.WaitValues(1, time.Second))

	assert.Equal(t, []interface{}{"for-a"}, first.Values())
	assert.Equal(t, []interface{}{"for-b"}, second.Values())

	// cancelling one leaves the other delivering.
	subA.Cancel()
	subB.Request(trackstream.DemandOf(1))
	observers[1].Emit("still-b")

	require.True(t, second.WaitValues(2, time.Second))
	assert.Equal(t, []interface{}{"for-b", "still-b"}, second.Values())
}

func TestPublisherDerivedPolicy(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	emitter := new(mocks.Emitter)
	pub := trackstream.PublishTracked(ordersQuery, mocks.ObservedCapability(emitter), queue)

	derived := pub.WithImmediateFirst()
	assert.Equal(t, trackstream.AsyncDelivery, pub.Policy())
	assert.Equal(t, trackstream.ImmediateFirstDelivery, derived.Policy())
	assert.NotEmpty(t, pub.ID())
}
