// File: reactor/threadpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-net/logging"
)

// LoopThreadPool runs N worker loops next to a base loop and hands them out
// in strict round-robin order. With N = 0 everything runs on the base loop.
type LoopThreadPool struct {
	base       *EventLoop
	name       string
	numThreads int
	cpus       []int
	opts       []LoopOption
	log        *logging.Logger

	started bool
	next    int
	threads []*LoopThread
	loops   []*EventLoop
}

// NewLoopThreadPool creates a pool bound to base. opts apply to every worker
// loop.
func NewLoopThreadPool(base *EventLoop, name string, opts ...LoopOption) *LoopThreadPool {
	return &LoopThreadPool{
		base: base,
		name: name,
		opts: opts,
		log:  logging.With(logging.Named(base.Logger(), "pool"), "pool", name),
	}
}

// SetThreadNum sets the worker count; it has no effect after Start.
func (p *LoopThreadPool) SetThreadNum(n int) {
	if n < 0 {
		n = 0
	}
	p.numThreads = n
}

// SetThreadCPUs pins worker i to cpus[i % len(cpus)]. Empty disables pinning.
func (p *LoopThreadPool) SetThreadCPUs(cpus []int) {
	p.cpus = append([]int(nil), cpus...)
}

// Started reports whether Start succeeded.
func (p *LoopThreadPool) Started() bool { return p.started }

// Start spawns the workers, calling initCb on each worker loop, or on the
// base loop when there are none. It must run on the base loop's thread.
func (p *LoopThreadPool) Start(initCb ThreadInitCallback) error {
	p.base.AssertInLoopThread()
	if p.started {
		return ErrPoolStarted
	}

	for i := 0; i < p.numThreads; i++ {
		cpu := -1
		if len(p.cpus) > 0 {
			cpu = p.cpus[i%len(p.cpus)]
		}
		t := NewLoopThread(fmt.Sprintf("%s%d", p.name, i), initCb, cpu, p.opts...)
		loop, err := t.StartLoop()
		if err != nil {
			p.stopThreads()
			return fmt.Errorf("start loop thread %d: %w", i, err)
		}
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, loop)
	}
	if p.numThreads == 0 && initCb != nil {
		initCb(p.base)
	}
	p.started = true
	p.log.Info().Int("threads", p.numThreads).Log("loop thread pool started")
	return nil
}

// NextLoop returns the next worker in cyclic order starting at index 0, or
// the base loop when there are no workers. Base loop thread only.
func (p *LoopThreadPool) NextLoop() *EventLoop {
	p.base.AssertInLoopThread()
	if len(p.loops) == 0 {
		return p.base
	}
	loop := p.loops[p.next]
	p.next++
	if p.next >= len(p.loops) {
		p.next = 0
	}
	return loop
}

// LoopForHash maps a hash code onto a fixed loop.
func (p *LoopThreadPool) LoopForHash(h uint64) *EventLoop {
	if len(p.loops) == 0 {
		return p.base
	}
	return p.loops[h%uint64(len(p.loops))]
}

// AllLoops returns the worker loops, or just the base loop when there are
// none.
func (p *LoopThreadPool) AllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.base}
	}
	return append([]*EventLoop(nil), p.loops...)
}

// Stop quits and joins every worker. It must not run on a worker thread.
func (p *LoopThreadPool) Stop() {
	p.stopThreads()
	p.loops = nil
	p.next = 0
	if p.started {
		p.log.Info().Log("loop thread pool stopped")
	}
}

func (p *LoopThreadPool) stopThreads() {
	for _, t := range p.threads {
		t.Stop()
	}
	p.threads = nil
}
