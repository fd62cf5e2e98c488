// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop: one epoll poller on one locked OS thread, plus a mutex-guarded
// pending-task queue for work handed over by other threads.

package reactor

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-net/logging"
	"golang.org/x/sys/unix"
)

// DefaultPollTimeout bounds a single epoll_wait.
const DefaultPollTimeout = 10 * time.Second

var (
	threadLoopsMu sync.Mutex
	threadLoops   = make(map[int]*EventLoop)
)

// CurrentLoop returns the loop owned by the calling OS thread, or nil.
func CurrentLoop() *EventLoop {
	tid := unix.Gettid()
	threadLoopsMu.Lock()
	defer threadLoopsMu.Unlock()
	return threadLoops[tid]
}

type loopConfig struct {
	name        string
	pollTimeout time.Duration
	log         *logging.Logger
}

// LoopOption configures an EventLoop.
type LoopOption func(*loopConfig)

// WithPollTimeout bounds each poll; a negative value blocks until an event.
func WithPollTimeout(d time.Duration) LoopOption {
	return func(c *loopConfig) { c.pollTimeout = d }
}

// WithLoopLogger sets the loop's logger.
func WithLoopLogger(l *logging.Logger) LoopOption {
	return func(c *loopConfig) { c.log = l }
}

// WithLoopName names the loop in logs.
func WithLoopName(name string) LoopOption {
	return func(c *loopConfig) { c.name = name }
}

// EventLoop runs the readiness dispatch cycle for the channels it owns.
type EventLoop struct {
	name   string
	tid    int
	log    *logging.Logger
	poller *Poller

	pollTimeoutMs int

	wakeFd int
	wakeCh *Channel
	active []*Channel

	looping        atomic.Bool
	quit           atomic.Bool
	callingPending atomic.Bool
	iteration      atomic.Uint64

	mu      sync.Mutex
	pending *queue.Queue
	// spare is the drained queue from the previous cycle, loop thread only.
	spare *queue.Queue

	closeMu sync.RWMutex
	closed  bool
}

// NewEventLoop creates a loop owned by the calling goroutine, which is locked
// to its OS thread until Close. Only one loop may exist per OS thread.
func NewEventLoop(opts ...LoopOption) (*EventLoop, error) {
	cfg := loopConfig{name: "loop", pollTimeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := logging.With(logging.Named(logging.Or(cfg.log), "loop"), "loop", cfg.name)

	runtime.LockOSThread()
	tid := unix.Gettid()

	threadLoopsMu.Lock()
	if other := threadLoops[tid]; other != nil {
		threadLoopsMu.Unlock()
		runtime.UnlockOSThread()
		fatalf(log, "another EventLoop %q exists in thread %d", other.name, tid)
	}
	threadLoopsMu.Unlock()

	poller, err := NewPoller(log)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	wakeFd, err := newWakeFd()
	if err != nil {
		_ = poller.Close()
		runtime.UnlockOSThread()
		return nil, err
	}

	l := &EventLoop{
		name:          cfg.name,
		tid:           tid,
		log:           log,
		poller:        poller,
		pollTimeoutMs: durationToMs(cfg.pollTimeout),
		wakeFd:        wakeFd,
		pending:       queue.New(),
		spare:         queue.New(),
	}
	l.wakeCh = NewChannel(l, wakeFd)
	l.wakeCh.SetReadCallback(l.handleWakeup)
	l.wakeCh.EnableReading()

	threadLoopsMu.Lock()
	threadLoops[tid] = l
	threadLoopsMu.Unlock()

	log.Debug().Int("tid", tid).Log("event loop created")
	return l, nil
}

func durationToMs(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d / time.Millisecond)
}

func (l *EventLoop) Name() string { return l.name }

// ThreadID is the OS thread id that owns the loop.
func (l *EventLoop) ThreadID() int { return l.tid }

// Iteration counts completed poll cycles.
func (l *EventLoop) Iteration() uint64 { return l.iteration.Load() }

// Logger is the loop's logger.
func (l *EventLoop) Logger() *logging.Logger { return l.log }

// IsInLoopThread reports whether the caller runs on the loop's thread.
func (l *EventLoop) IsInLoopThread() bool { return unix.Gettid() == l.tid }

// AssertInLoopThread aborts when called from any other thread.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		fatalf(l.log, "EventLoop %q owned by thread %d used from thread %d", l.name, l.tid, unix.Gettid())
	}
}

// Loop runs poll, dispatch and pending tasks until Quit. It must be entered
// once, from the owning thread.
func (l *EventLoop) Loop() {
	l.AssertInLoopThread()
	if !l.looping.CompareAndSwap(false, true) {
		fatalf(l.log, "EventLoop %q entered twice", l.name)
	}
	defer l.looping.Store(false)

	l.log.Info().Log("event loop started")
	for !l.quit.Load() {
		active, err := l.poller.Poll(l.pollTimeoutMs, l.active[:0])
		l.active = active
		if err != nil {
			l.log.Err().Err(err).Log("poll failed")
		}
		l.iteration.Add(1)

		for i, ch := range active {
			// A channel removed by an earlier callback in this batch is
			// skipped.
			if ch.Registered() {
				ch.HandleEvent()
			}
			active[i] = nil
		}

		l.doPendingTasks()
	}
	// Teardown work queued alongside Quit still runs, including tasks those
	// tasks queue.
	for l.PendingTasks() > 0 {
		l.doPendingTasks()
	}
	l.log.Info().Uint64("iterations", l.iteration.Load()).Log("event loop stopped")
}

// Quit asks the loop to exit after its current cycle. Safe from any thread.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.Wakeup()
	}
}

// Looping reports whether Loop is running.
func (l *EventLoop) Looping() bool { return l.looping.Load() }

// RunInLoop runs task now when called on the loop's thread, otherwise queues
// it.
func (l *EventLoop) RunInLoop(task Task) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop defers task to the loop's pending-task phase. The loop is woken
// when the caller is foreign or the loop is already draining pending tasks,
// so the task never waits for a full poll timeout.
func (l *EventLoop) QueueInLoop(task Task) {
	l.mu.Lock()
	l.pending.Add(task)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPending.Load() {
		l.Wakeup()
	}
}

// PendingTasks is the number of queued tasks not yet picked up.
func (l *EventLoop) PendingTasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Length()
}

// Wakeup interrupts a blocked poll.
func (l *EventLoop) Wakeup() error {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return ErrLoopClosed
	}
	if err := signalWakeFd(l.wakeFd); err != nil {
		l.log.Err().Err(err).Log("wakeup write failed")
		return err
	}
	return nil
}

func (l *EventLoop) handleWakeup() {
	if err := drainWakeFd(l.wakeFd); err != nil {
		l.log.Err().Err(err).Log("wakeup read failed")
	}
}

// doPendingTasks swaps the queue out under the lock and runs it outside, so
// tasks may queue more tasks without deadlock.
func (l *EventLoop) doPendingTasks() {
	l.callingPending.Store(true)
	defer l.callingPending.Store(false)

	l.mu.Lock()
	tasks := l.pending
	l.pending = l.spare
	l.mu.Unlock()

	for tasks.Length() > 0 {
		tasks.Remove().(Task)()
	}
	l.spare = tasks
}

// UpdateChannel applies c's interest mask to the poller.
func (l *EventLoop) UpdateChannel(c *Channel) {
	l.checkChannel(c)
	if err := l.poller.UpdateChannel(c); err != nil {
		fatalf(l.log, "EventLoop %q update channel fd=%d: %v", l.name, c.fd, err)
	}
}

// RemoveChannel deregisters c from the poller.
func (l *EventLoop) RemoveChannel(c *Channel) {
	l.checkChannel(c)
	l.poller.RemoveChannel(c)
}

// HasChannel reports whether c is registered with this loop.
func (l *EventLoop) HasChannel(c *Channel) bool {
	l.checkChannel(c)
	return l.poller.HasChannel(c)
}

// ChannelCount is the number of registered channels, including the internal
// wakeup channel.
func (l *EventLoop) ChannelCount() int {
	l.AssertInLoopThread()
	return l.poller.Len()
}

func (l *EventLoop) checkChannel(c *Channel) {
	if c.loop != l {
		fatalf(l.log, "channel fd=%d belongs to another loop", c.fd)
	}
	l.AssertInLoopThread()
}

// Close releases the poller and the wakeup descriptor and unlocks the owning
// goroutine from its thread. It must run on the owning thread after Loop has
// returned. Tasks still queued are dropped.
func (l *EventLoop) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return ErrLoopClosed
	}
	if l.looping.Load() {
		l.closeMu.Unlock()
		return errors.New("reactor: close of a running event loop")
	}
	if !l.IsInLoopThread() {
		l.closeMu.Unlock()
		l.AssertInLoopThread()
	}
	l.closed = true
	l.wakeCh.DisableAll()
	l.wakeCh.Remove()
	err := errors.Join(unix.Close(l.wakeFd), l.poller.Close())
	l.closeMu.Unlock()

	threadLoopsMu.Lock()
	delete(threadLoops, l.tid)
	threadLoopsMu.Unlock()
	runtime.UnlockOSThread()

	if dropped := l.PendingTasks(); dropped > 0 {
		l.log.Warning().Int("tasks", dropped).Log("event loop closed with pending tasks")
	}
	l.log.Debug().Log("event loop closed")
	return err
}
