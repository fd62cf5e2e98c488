// File: reactor/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"runtime"
	"sync"

	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/logging"
)

// ThreadInitCallback runs on a freshly created loop's own thread before the
// loop starts dispatching.
type ThreadInitCallback func(*EventLoop)

type startResult struct {
	loop *EventLoop
	err  error
}

// LoopThread owns a goroutine locked to an OS thread that runs exactly one
// EventLoop.
type LoopThread struct {
	name   string
	cpu    int
	initCb ThreadInitCallback
	opts   []LoopOption
	log    *logging.Logger

	mu      sync.Mutex
	loop    *EventLoop
	started bool
	done    chan struct{}
}

// NewLoopThread prepares a loop thread. cpu < 0 leaves the thread unpinned.
func NewLoopThread(name string, initCb ThreadInitCallback, cpu int, opts ...LoopOption) *LoopThread {
	cfg := loopConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LoopThread{
		name:   name,
		cpu:    cpu,
		initCb: initCb,
		opts:   append(opts[:len(opts):len(opts)], WithLoopName(name)),
		log:    logging.With(logging.Named(logging.Or(cfg.log), "loop-thread"), "thread", name),
		done:   make(chan struct{}),
	}
}

// StartLoop spawns the thread and blocks until its loop exists.
func (t *LoopThread) StartLoop() (*EventLoop, error) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil, ErrLoopThreadStarted
	}
	t.started = true
	t.mu.Unlock()

	ready := make(chan startResult, 1)
	go t.run(ready)
	res := <-ready
	return res.loop, res.err
}

func (t *LoopThread) run(ready chan<- startResult) {
	defer close(t.done)

	// Held for the goroutine's lifetime: a pinned thread is discarded on exit
	// instead of being handed back to the scheduler.
	runtime.LockOSThread()
	if t.cpu >= 0 {
		if err := affinity.SetAffinity(t.cpu); err != nil {
			t.log.Warning().Int("cpu", t.cpu).Err(err).Log("cpu pinning failed")
		}
	}

	loop, err := NewEventLoop(t.opts...)
	if err != nil {
		ready <- startResult{err: err}
		return
	}
	if t.initCb != nil {
		t.initCb(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
	ready <- startResult{loop: loop}

	loop.Loop()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
	if err := loop.Close(); err != nil {
		t.log.Err().Err(err).Log("event loop close")
	}
}

// Loop returns the running loop, or nil before start and after exit.
func (t *LoopThread) Loop() *EventLoop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Stop quits the loop and joins the thread. It must not be called from the
// loop's own thread.
func (t *LoopThread) Stop() {
	t.mu.Lock()
	loop, started := t.loop, t.started
	t.mu.Unlock()
	if !started {
		return
	}
	if loop != nil {
		loop.Quit()
	}
	<-t.done
}
