package trackstream_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gokit/trackstream"
)

func TestDemandAdditive(t *testing.T) {
	a := trackstream.DemandOf(2)
	b := trackstream.DemandOf(3)

	assert.Equal(t, uint64(5), a.Add(b).Count())
	assert.Equal(t, a.Add(b), b.Add(a))
	assert.Equal(t, a.Add(trackstream.None), a)
}

func TestDemandSaturates(t *testing.T) {
	near := trackstream.DemandOf(math.MaxUint64 - 1)
	sum := near.Add(trackstream.DemandOf(10))

	assert.False(t, sum.IsUnbounded())
	assert.Equal(t, uint64(math.MaxUint64), sum.Count())
}

func TestDemandUnboundedAbsorbs(t *testing.T) {
	assert.True(t, trackstream.Unbounded.Add(trackstream.DemandOf(5)).IsUnbounded())
	assert.True(t, trackstream.DemandOf(5).Add(trackstream.Unbounded).IsUnbounded())
	assert.True(t, trackstream.Unbounded.Add(trackstream.Unbounded).IsUnbounded())
	assert.False(t, trackstream.Unbounded.IsNone())
}

func TestDemandCounterConsume(t *testing.T) {
	counter := trackstream.NewDemandCounter()
	assert.True(t, counter.Remaining().IsNone())
	assert.False(t, counter.ConsumeOne())

	counter.Add(trackstream.DemandOf(2))
	counter.Add(trackstream.DemandOf(3))
	assert.Equal(t, uint64(5), counter.Remaining().Count())

	for i := 0; i < 5; i++ {
		assert.True(t, counter.ConsumeOne())
	}

	assert.False(t, counter.ConsumeOne())
	assert.True(t, counter.Remaining().IsNone())
}

func TestDemandCounterUnbounded(t *testing.T) {
	counter := trackstream.NewDemandCounter()
	counter.Add(trackstream.Unbounded)

	for i := 0; i < 100; i++ {
		assert.True(t, counter.ConsumeOne())
	}
	assert.True(t, counter.Remaining().IsUnbounded())
}
