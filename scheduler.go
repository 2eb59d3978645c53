package trackstream

import (
	"sync"
	"sync/atomic"

	"github.com/gokit/errors"
)

// ErrQueueEmpty is returned when the task queue has no pending task.
var ErrQueueEmpty = errors.New("task queue is empty")

//***********************************
//  DeliveryPolicy
//***********************************

// DeliveryPolicy decides, per subscription, whether the first value may
// be handed to the subscriber synchronously or every signal is queued
// onto the target scheduler.
type DeliveryPolicy uint8

// constants of delivery policies.
const (
	// AsyncDelivery schedules every value and terminal signal onto the
	// target scheduler. Subscribers never see a callback on the
	// producer's thread.
	AsyncDelivery DeliveryPolicy = iota

	// ImmediateFirstDelivery delivers the very first value, or an error
	// arriving before any value, synchronously on the producer's thread.
	// Demand must then be requested from the target scheduler itself;
	// anything else is a fatal usage error. Every later signal is
	// scheduled as with AsyncDelivery.
	ImmediateFirstDelivery
)

// String implements the Stringer interface.
func (d DeliveryPolicy) String() string {
	switch d {
	case AsyncDelivery:
		return "async"
	case ImmediateFirstDelivery:
		return "immediate-first"
	}
	return "unknown"
}

//***********************************
//  Scheduler
//***********************************

// Scheduler is a serialized execution context onto which subscription
// signals are queued. Tasks scheduled from any goroutine run one at a
// time, in FIFO order.
type Scheduler interface {
	// Schedule queues the task for execution on the scheduler's context.
	Schedule(func())

	// IsCurrent reports whether the caller is already running on the
	// scheduler's context.
	IsCurrent() bool
}

//***********************************
//  taskQueue
//***********************************

var taskNodePool = sync.Pool{New: func() interface{} {
	return new(taskNode)
}}

type taskNode struct {
	fn   func()
	next *taskNode
}

// taskQueue implements an unbounded FIFO of tasks safe for concurrent
// use across goroutines, with a cond-based wait for arrival.
type taskQueue struct {
	cond  *sync.Cond
	head  *taskNode
	tail  *taskNode
	total int64
}

func newTaskQueue() *taskQueue {
	var tq taskQueue
	tq.cond = sync.NewCond(new(sync.Mutex))
	return &tq
}

// Wait blocks the calling goroutine till a task is pushed into the
// queue or a Signal broadcast arrives.
func (tq *taskQueue) Wait() {
	tq.cond.L.Lock()
	if tq.head != nil {
		tq.cond.L.Unlock()
		return
	}
	tq.cond.Wait()
	tq.cond.L.Unlock()
}

// Signal broadcasts to all waiting goroutines to recheck the queue.
func (tq *taskQueue) Signal() {
	tq.cond.Broadcast()
}

// Push adds the task to the back of the queue.
func (tq *taskQueue) Push(fn func()) {
	n := taskNodePool.Get().(*taskNode)
	n.fn = fn

	tq.cond.L.Lock()
	if tq.tail == nil {
		tq.head, tq.tail = n, n
	} else {
		tq.tail.next = n
		tq.tail = n
	}
	tq.cond.L.Unlock()

	atomic.AddInt64(&tq.total, 1)
	tq.cond.Broadcast()
}

// Pop removes the task at the front of the queue.
func (tq *taskQueue) Pop() (func(), error) {
	tq.cond.L.Lock()
	head := tq.head
	if head == nil {
		tq.cond.L.Unlock()
		return nil, errors.WrapOnly(ErrQueueEmpty)
	}

	tq.head = head.next
	if tq.tail == head {
		tq.tail = tq.head
	}
	tq.cond.L.Unlock()

	atomic.AddInt64(&tq.total, -1)

	fn := head.fn
	head.fn = nil
	head.next = nil
	taskNodePool.Put(head)
	return fn, nil
}

// Empty returns true/false if the queue has no pending task.
func (tq *taskQueue) Empty() bool {
	tq.cond.L.Lock()
	defer tq.cond.L.Unlock()
	return tq.head == nil
}

// Total returns the count of pending tasks.
func (tq *taskQueue) Total() int {
	return int(atomic.LoadInt64(&tq.total))
}

//***********************************
//  SerialQueue
//***********************************

var _ Scheduler = &SerialQueue{}

// SerialQueue implements the Scheduler interface with a single worker
// goroutine draining a FIFO task queue, giving subscribers a uniform,
// non-reentrant delivery context.
type SerialQueue struct {
	tasks  *taskQueue
	closed AtomicBool
	worker int64
	waiter sync.WaitGroup
	log    Logs
}

// NewSerialQueue returns a started SerialQueue.
func NewSerialQueue(log Logs) *SerialQueue {
	if log == nil {
		log = &DrainLog{}
	}

	sq := &SerialQueue{
		tasks: newTaskQueue(),
		log:   log,
	}

	sq.waiter.Add(1)
	go sq.run()
	return sq
}

// Schedule queues the giving task behind all previously scheduled
// tasks. Tasks scheduled after Close are dropped.
func (sq *SerialQueue) Schedule(fn func()) {
	if sq.closed.IsTrue() {
		sq.log.Emit(WARN, LogMsg("task scheduled on closed queue dropped").Write())
		return
	}
	sq.tasks.Push(fn)
}

// IsCurrent reports whether the caller runs on the queue's worker
// goroutine, i.e. inside a previously scheduled task.
func (sq *SerialQueue) IsCurrent() bool {
	return atomic.LoadInt64(&sq.worker) == goid()
}

// Close stops the queue after all already-queued tasks have run.
func (sq *SerialQueue) Close() {
	sq.closed.On()
	sq.tasks.Signal()
}

// Wait blocks till the worker goroutine has exited.
func (sq *SerialQueue) Wait() {
	sq.waiter.Wait()
}

func (sq *SerialQueue) run() {
	defer sq.waiter.Done()
	atomic.StoreInt64(&sq.worker, goid())

	for {
		for {
			fn, err := sq.tasks.Pop()
			if err != nil {
				break
			}
			fn()
		}

		if sq.closed.IsTrue() && sq.tasks.Empty() {
			return
		}
		sq.tasks.Wait()
	}
}
