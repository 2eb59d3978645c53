package trackstream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gokit/trackstream"
)

func TestCancelOnceRunsOnce(t *testing.T) {
	var calls int
	handle := trackstream.CancelFunc(func() {
		calls++
	})

	assert.False(t, handle.Consumed())

	handle.Cancel()
	handle.Cancel()
	handle.Cancel()

	assert.Equal(t, 1, calls)
	assert.True(t, handle.Consumed())
}

func TestCancelOnceNilFunc(t *testing.T) {
	handle := trackstream.CancelFunc(nil)
	assert.True(t, handle.Consumed())
	assert.NotPanics(t, handle.Cancel)
}

func TestCancelOnceReentrant(t *testing.T) {
	var calls int
	var handle *trackstream.CancelOnce
	handle = trackstream.CancelFunc(func() {
		calls++
		handle.Cancel()
	})

	assert.NotPanics(t, handle.Cancel)
	assert.Equal(t, 1, calls)
}

func TestCancelAll(t *testing.T) {
	var order []string
	first := trackstream.CancelFunc(func() {
		order = append(order, "first")
	})
	second := trackstream.CancelFunc(func() {
		order = append(order, "second")
	})

	all := trackstream.CancelAll(first, nil, second)
	all.Cancel()
	all.Cancel()

	assert.Equal(t, []string{"first", "second"}, order)
	assert.True(t, first.Consumed())
	assert.True(t, second.Consumed())
}
