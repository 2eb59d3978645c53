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

var insertOrder = trackstream.NewTransaction("INSERT INTO orders VALUES (?)", "orders").WithArgs(42)

func TestWriteBridgeDeliversValueThenCompletes(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	capability := &mocks.FuncCapability{
		WriteFunc: func(_ trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
			fn("committed", nil)
			return trackstream.CancelFunc(nil)
		},
	}

	recorder := mocks.NewRecorder()
	sub := trackstream.PublishWrite(capability, insertOrder, queue).Subscribe(recorder)
	sub.Request(trackstream.DemandOf(1))

	require.True(t, recorder.WaitTerminal(time.Second))
	assert.Equal(t, []interface{}{"committed"}, recorder.Values())
	assert.Equal(t, 1, recorder.Completes())
	assert.Empty(t, recorder.Errs())
}

func TestWriteBridgeSubmitsExactlyOnce(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	var writes int
	var complete func(interface{}, error)
	capability := &mocks.FuncCapability{
		WriteFunc: func(_ trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
			writes++
			complete = fn
			return trackstream.CancelFunc(nil)
		},
	}

	recorder := mocks.NewRecorder()
	sub := trackstream.PublishWrite(capability, insertOrder, queue).Subscribe(recorder)

	sub.Request(trackstream.DemandOf(1))
	sub.Request(trackstream.DemandOf(3))
	sub.Request(trackstream.Unbounded)
	require.Equal(t, 1, writes)

	complete("done", nil)

	require.True(t, recorder.WaitTerminal(time.Second))
	assert.Equal(t, []interface{}{"done"}, recorder.Values())
	assert.Equal(t, 1, recorder.Completes())
}

func TestWriteBridgeCancelSuppressesResult(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	var complete func(interface{}, error)
	capability := &mocks.FuncCapability{
		WriteFunc: func(_ trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
			complete = fn
			return trackstream.CancelFunc(nil)
		},
	}

	recorder := mocks.NewRecorder()
	sub := trackstream.PublishWrite(capability, insertOrder, queue).Subscribe(recorder)
	sub.Request(trackstream.DemandOf(1))

	sub.Cancel()
	complete("too late", nil)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, recorder.Values())
	assert.Empty(t, recorder.Errs())
	assert.Zero(t, recorder.Completes())
}

func TestReadBridgeDeliversResult(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	capability := &mocks.FuncCapability{
		ReadFunc: func(q trackstream.TrackedQuery, fn func(interface{}, error)) trackstream.Cancellable {
			fn([]string{"row-1", "row-2"}, nil)
			return trackstream.CancelFunc(nil)
		},
	}

	recorder := mocks.NewRecorder()
	sub := trackstream.PublishRead(capability, ordersQuery, queue).Subscribe(recorder)
	sub.Request(trackstream.DemandOf(1))

	require.True(t, recorder.WaitTerminal(time.Second))
	require.Len(t, recorder.Values(), 1)
	assert.Equal(t, []string{"row-1", "row-2"}, recorder.Values()[0])
	assert.Equal(t, 1, recorder.Completes())
}

func TestWriteThenReadShortCircuitsOnWriteFailure(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	var reads int
	capability := &mocks.FuncCapability{
		WriteFunc: func(_ trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
			fn(nil, errors.New("constraint violated"))
			return trackstream.CancelFunc(nil)
		},
		ReadFunc: func(_ trackstream.TrackedQuery, fn func(interface{}, error)) trackstream.Cancellable {
			reads++
			fn(nil, nil)
			return trackstream.CancelFunc(nil)
		},
	}

	recorder := mocks.NewRecorder()
	sub := trackstream.PublishWriteThenRead(capability, insertOrder, ordersQuery, queue).Subscribe(recorder)
	sub.Request(trackstream.DemandOf(1))

	require.True(t, recorder.WaitTerminal(time.Second))
	assert.Equal(t, 0, reads)
	assert.Empty(t, recorder.Values())
	require.Len(t, recorder.Errs(), 1)
	assert.Zero(t, recorder.Completes())
}

func TestWriteThenReadDeliversReadResult(t *testing.T) {
	queue := trackstream.NewSerialQueue(nil)
	defer queue.Close()

	capability := &mocks.FuncCapability{
		WriteFunc: func(_ trackstream.Transaction, fn func(interface{}, error)) trackstream.Cancellable {
			fn("write-result", nil)
			return trackstream.CancelFunc(nil)
		},
		ReadFunc: func(_ trackstream.TrackedQuery, fn func(interface{}, error)) trackstream.Cancellable {
			fn("read-result", nil)
			return trackstream.CancelFunc(nil)
		},
	}

	recorder := mocks.NewRecorder()
	sub := trackstream.PublishWriteThenRead(capability, insertOrder, ordersQuery, queue).Subscribe(recorder)
	sub.Request(trackstream.DemandOf(1))

	require.True(t, recorder.WaitTerminal(time.Second))
	assert.Equal(t, []interface{}{"read-result"}, recorder.Values())
	assert.Equal(t, 1, recorder.Completes())
}
