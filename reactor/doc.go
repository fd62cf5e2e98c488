// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the one-loop-per-thread event reactor: a Channel binds
// a descriptor to readiness interests and callbacks, a Poller wraps epoll, and an
// EventLoop owns one Poller on one locked OS thread and runs dispatch plus
// cross-thread pending tasks. LoopThread and LoopThreadPool spawn worker loops
// and hand them out round-robin.
//
// Everything a loop owns (its channels, its poller) is touched only from the
// loop's thread. Other goroutines reach a loop through RunInLoop/QueueInLoop.
package reactor
