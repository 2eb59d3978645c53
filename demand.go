package trackstream

import (
	"math"
	"strconv"
)

//***********************************
//  Demand
//***********************************

// Demand expresses how many further values a subscriber is willing to
// receive before it must grant more. It is a pure value type: finite
// counts merge additively with saturation, and the unbounded sentinel
// absorbs any addition.
type Demand struct {
	count     uint64
	unbounded bool
}

// None is the zero demand.
var None = Demand{}

// Unbounded is the demand sentinel absorbing all additions.
var Unbounded = Demand{unbounded: true}

// DemandOf returns a finite demand of n values.
func DemandOf(n uint64) Demand {
	return Demand{count: n}
}

// Add merges two demands, saturating at the maximum finite count.
func (d Demand) Add(o Demand) Demand {
	if d.unbounded || o.unbounded {
		return Unbounded
	}

	sum := d.count + o.count
	if sum < d.count {
		sum = math.MaxUint64
	}
	return Demand{count: sum}
}

// IsUnbounded returns true/false if giving demand is the unbounded sentinel.
func (d Demand) IsUnbounded() bool {
	return d.unbounded
}

// IsNone returns true/false if giving demand permits no delivery.
func (d Demand) IsNone() bool {
	return !d.unbounded && d.count == 0
}

// Count returns the finite count of giving demand. It is meaningless
// for unbounded demand.
func (d Demand) Count() uint64 {
	return d.count
}

// String implements the Stringer interface.
func (d Demand) String() string {
	if d.unbounded {
		return "unbounded"
	}
	return strconv.FormatUint(d.count, 10)
}

//***********************************
//  DemandCounter
//***********************************

// DemandCounter tracks the outstanding demand of a single subscription.
// It is not safe for concurrent use; owners synchronize access with the
// subscription's lock.
type DemandCounter struct {
	current Demand
}

// NewDemandCounter returns a counter with no outstanding demand.
func NewDemandCounter() *DemandCounter {
	return &DemandCounter{}
}

// Add merges giving demand into the counter.
func (dc *DemandCounter) Add(d Demand) {
	dc.current = dc.current.Add(d)
}

// ConsumeOne takes a single unit of demand, reporting whether any was
// available. Unbounded demand is unaffected by consumption. Remaining
// demand never goes below zero: consuming at zero fails and changes
// nothing.
func (dc *DemandCounter) ConsumeOne() bool {
	if dc.current.unbounded {
		return true
	}
	if dc.current.count == 0 {
		return false
	}
	dc.current.count--
	return true
}

// Remaining returns the outstanding demand.
func (dc *DemandCounter) Remaining() Demand {
	return dc.current
}
