package sources_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokit/trackstream"
	"github.com/gokit/trackstream/internal"
	"github.com/gokit/trackstream/mocks"
	"github.com/gokit/trackstream/sources"
	"github.com/gokit/trackstream/sources/internal/stores"
)

func TestConfigValidation(t *testing.T) {
	_, err := sources.New(sources.Config{Bus: stores.NewMemBus()})
	assert.Error(t, err)

	_, err = sources.New(sources.Config{Store: stores.NewMemStore()})
	assert.Error(t, err)

	capability, err := sources.New(sources.Config{Store: stores.NewMemStore(), Bus: stores.NewMemBus()})
	require.NoError(t, err)
	assert.NotNil(t, capability)
}

func TestRegionTopic(t *testing.T) {
	assert.Equal(t, "billing.orders", sources.RegionTopic("billing", "orders"))
}

func TestCapabilityThroughTrackedPublisher(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	store := stores.NewMemStore()
	store.Set("orders", "first")

	bus := stores.NewMemBus()
	defer bus.Close()

	capability, err := sources.New(sources.Config{Store: store, Bus: bus, Log: internal.TLog{}})
	require.NoError(t, err)

	query := trackstream.NewTrackedQuery("orders-view", "SELECT", "orders")
	pub := trackstream.PublishTracked(query, capability, queue)

	recorder := mocks.NewRecorder()
	sub := pub.Subscribe(recorder)
	sub.Request(trackstream.DemandOf(2))

	require.True(t, recorder.WaitValues(1, time.Second))
	assert.Equal(t, []interface{}{"first"}, recorder.Values())

	// a committed write notifies the observation which re-queries.
	writes := mocks.NewRecorder()
	writeSub := trackstream.PublishWrite(capability, trackstream.NewTransaction("SET", "orders").WithArgs("second"), queue).Subscribe(writes)
	writeSub.Request(trackstream.DemandOf(1))

	require.True(t, writes.WaitTerminal(time.Second))
	require.True(t, recorder.WaitValues(2, time.Second))
	assert.Equal(t, []interface{}{"first", "second"}, recorder.Values())
}

func TestCapabilityImmediateFirstThroughPublisher(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	store := stores.NewMemStore()
	store.Set("orders", "now")

	capability, err := sources.New(sources.Config{Store: store, Bus: stores.NewMemBus()})
	require.NoError(t, err)

	query := trackstream.NewTrackedQuery("orders-view", "SELECT", "orders")
	pub := trackstream.PublishTracked(query, capability, queue).WithImmediateFirst()

	recorder := mocks.NewRecorder()

	var sawImmediately bool
	done := make(chan struct{})
	queue.Schedule(func() {
		defer close(done)
		sub := pub.Subscribe(recorder)
		sub.Request(trackstream.DemandOf(1))
		sawImmediately = len(recorder.Values()) == 1
	})
	<-done

	assert.True(t, sawImmediately)
	assert.Equal(t, []interface{}{"now"}, recorder.Values())
}
