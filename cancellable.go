package trackstream

import "sync"

//***********************************
//  CancelOnce
//***********************************

var _ Cancellable = &CancelOnce{}

// CancelOnce implements a one-shot Cancellable as an exclusively-owned
// slot: the stop function is taken and invoked exactly once, after which
// the slot is empty and further calls are no-ops by construction. This
// avoids an "already cancelled" flag that could race with the invocation.
type CancelOnce struct {
	cl sync.Mutex
	fn func()
}

// CancelFunc wraps the giving stop function as a one-shot Cancellable.
// A nil fn yields a handle whose Cancel does nothing.
func CancelFunc(fn func()) *CancelOnce {
	return &CancelOnce{fn: fn}
}

// Cancel takes the stop function out of the slot and invokes it. The
// invocation happens outside the slot's lock, so a stop function may
// safely re-enter the handle.
func (c *CancelOnce) Cancel() {
	c.cl.Lock()
	fn := c.fn
	c.fn = nil
	c.cl.Unlock()

	if fn != nil {
		fn()
	}
}

// Consumed returns true/false if the slot has already been taken.
func (c *CancelOnce) Consumed() bool {
	c.cl.Lock()
	defer c.cl.Unlock()
	return c.fn == nil
}

//***********************************
//  CancelAll
//***********************************

// CancelAll aggregates giving handles into a single one-shot Cancellable
// which cancels each of them in order.
func CancelAll(handles ...Cancellable) *CancelOnce {
	return CancelFunc(func() {
		for _, h := range handles {
			if h != nil {
				h.Cancel()
			}
		}
	})
}
