// File: server/context.go
// Author: momentics <momentics@gmail.com>
//
// Per-connection context store. A protocol layer attaches its state under one
// of a closed set of kinds; each kind holds at most one value.

package server

import (
	"errors"
	"fmt"
	"sync"
)

// ContextKind identifies the purpose of a per-connection context.
type ContextKind uint8

const (
	// ContextProtocol holds protocol parser state, e.g. an HTTP request
	// being assembled.
	ContextProtocol ContextKind = iota + 1
	// ContextSession holds authenticated session state.
	ContextSession
	// ContextApplication is free for the application.
	ContextApplication

	numContextKinds = int(ContextApplication) + 1
)

// ErrInvalidContextKind rejects a context whose kind is outside the known set.
var ErrInvalidContextKind = errors.New("server: invalid context kind")

func (k ContextKind) String() string {
	switch k {
	case ContextProtocol:
		return "protocol"
	case ContextSession:
		return "session"
	case ContextApplication:
		return "application"
	}
	return fmt.Sprintf("ContextKind(%d)", uint8(k))
}

func (k ContextKind) valid() bool {
	return k > 0 && int(k) < numContextKinds
}

// Context is a value attachable to a Connection.
type Context interface {
	ContextKind() ContextKind
}

type contextStore struct {
	mu    sync.RWMutex
	slots [numContextKinds]Context
}

func (s *contextStore) set(v Context) error {
	if v == nil {
		return ErrInvalidContextKind
	}
	k := v.ContextKind()
	if !k.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidContextKind, k)
	}
	s.mu.Lock()
	s.slots[k] = v
	s.mu.Unlock()
	return nil
}

func (s *contextStore) get(k ContextKind) (Context, bool) {
	if !k.valid() {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.slots[k]
	return v, v != nil
}

func (s *contextStore) clear(k ContextKind) {
	if !k.valid() {
		return
	}
	s.mu.Lock()
	s.slots[k] = nil
	s.mu.Unlock()
}

// SetContext stores v under its kind, replacing any previous value.
func (c *Connection) SetContext(v Context) error { return c.ctx.set(v) }

// GetContext returns the value stored under k.
func (c *Connection) GetContext(k ContextKind) (Context, bool) { return c.ctx.get(k) }

// HasContext reports whether a value is stored under k.
func (c *Connection) HasContext(k ContextKind) bool {
	_, ok := c.ctx.get(k)
	return ok
}

// ClearContext drops the value stored under k.
func (c *Connection) ClearContext(k ContextKind) { c.ctx.clear(k) }

// ContextOf returns the value stored under k if it has type T.
func ContextOf[T Context](c *Connection, k ContextKind) (T, bool) {
	var zero T
	v, ok := c.ctx.get(k)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
