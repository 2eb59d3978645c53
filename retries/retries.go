// Package retries provides caller-side recovery for failed
// subscriptions: the stream core never retries on its own, so
// consumers that want a self-healing stream re-subscribe through
// Resubscribe with a backoff of their choosing.
package retries

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gokit/trackstream"
)

// Backoff returns the wait before giving retry attempt, with attempts
// counted from 1.
type Backoff func(attempt int) time.Duration

var random = rand.New(rand.NewSource(time.Now().UnixNano()))

// Linear returns increasing waits, each a second longer than the last.
func Linear(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}

// Exponential returns ever increasing waits by a power of 2.
func Exponential(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// ExponentialJitter returns ever increasing waits by a power of 2 with
// +/- 0-33% to prevent synchronized retries.
func ExponentialJitter(attempt int) time.Duration {
	return jitter(1 << uint(attempt))
}

// LinearJitter returns increasing waits, each a second longer than the
// last, with +/- 0-33% to prevent synchronized retries.
func LinearJitter(attempt int) time.Duration {
	return jitter(attempt)
}

// RangedExponential returns a Backoff with exponential waits starting
// at min and capped at max.
func RangedExponential(min, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		mult := math.Pow(2, float64(attempt)) * float64(min)
		wait := time.Duration(mult)
		if float64(wait) != mult || wait > max {
			wait = max
		}
		return wait
	}
}

func jitter(seconds int) time.Duration {
	ms := seconds * 1000
	maxJitter := ms / 3

	ms += random.Intn(2*maxJitter) - maxJitter
	if ms <= 0 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

//*****************************************************************************
// Resubscribe
//*****************************************************************************

// Resubscribe subscribes giving subscriber to the publisher and, on a
// terminal error, re-subscribes after the backoff's wait, up to max
// attempts. A value delivery resets the attempt counter; once the
// attempts are spent the last error reaches the subscriber. The
// returned handle ends the whole arrangement.
//
// Demand is re-requested in full on every attempt, from the retry
// timer's goroutine: only async-delivery publishers are suitable here.
func Resubscribe(pub trackstream.Publisher, sub trackstream.Subscriber, demand trackstream.Demand, max int, backoff Backoff) trackstream.Cancellable {
	r := &resubscriber{
		pub:     pub,
		sub:     sub,
		demand:  demand,
		max:     max,
		backoff: backoff,
	}
	r.subscribe()
	return trackstream.CancelFunc(r.stop)
}

type resubscriber struct {
	pub     trackstream.Publisher
	sub     trackstream.Subscriber
	demand  trackstream.Demand
	max     int
	backoff Backoff

	ml       sync.Mutex
	stopped  bool
	attempts int
	current  trackstream.Subscription
	timer    *time.Timer
}

func (r *resubscriber) subscribe() {
	r.ml.Lock()
	if r.stopped {
		r.ml.Unlock()
		return
	}

	s := r.pub.Subscribe(retrying{r})
	r.current = s
	r.ml.Unlock()

	s.Request(r.demand)
}

func (r *resubscriber) stop() {
	r.ml.Lock()
	r.stopped = true
	current := r.current
	timer := r.timer
	r.current = nil
	r.timer = nil
	r.ml.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if current != nil {
		current.Cancel()
	}
}

// retrying wraps the consumer's subscriber, intercepting terminal
// errors to schedule the next attempt.
type retrying struct {
	r *resubscriber
}

// OnNext implements the Subscriber interface.
func (w retrying) OnNext(v interface{}) {
	w.r.ml.Lock()
	w.r.attempts = 0
	w.r.ml.Unlock()

	w.r.sub.OnNext(v)
}

// OnComplete implements the Subscriber interface.
func (w retrying) OnComplete() {
	w.r.sub.OnComplete()
}

// OnError implements the Subscriber interface.
func (w retrying) OnError(err error) {
	w.r.ml.Lock()
	if w.r.stopped {
		w.r.ml.Unlock()
		return
	}

	w.r.attempts++
	if w.r.attempts > w.r.max {
		w.r.ml.Unlock()
		w.r.sub.OnError(err)
		return
	}

	w.r.timer = time.AfterFunc(w.r.backoff(w.r.attempts), w.r.subscribe)
	w.r.ml.Unlock()
}
