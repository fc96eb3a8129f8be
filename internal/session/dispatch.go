package session

import (
	"context"

	"github.com/pocketrelay/pocketrelay/internal/blaze/tagcodec"
	"github.com/pocketrelay/pocketrelay/internal/protoids"
)

// dispatchKey identifies one (component, command) pair in the table.
type dispatchKey struct {
	Component protoids.Component
	Command   protoids.Command
}

// Handler processes a decoded request body for an authenticated (or
// not yet authenticated) session and returns the reply body. A nil
// reply body with ErrNone means "no payload, but still succeeded" —
// distinct from returning a non-nil error, which maps to an error
// packet on the same message id.
type Handler func(ctx context.Context, s *Session, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error)

// Dispatcher is the Session Engine's static (component, command) →
// Handler table. It is built once at startup and never mutated
// afterward, so Dispatch needs no locking.
type Dispatcher struct {
	table map[dispatchKey]Handler
}

// NewDispatcher returns an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{table: make(map[dispatchKey]Handler)}
}

// Register binds a handler to a (component, command) pair. Intended
// to be called only during startup wiring, not concurrently with
// Dispatch.
func (d *Dispatcher) Register(component protoids.Component, command protoids.Command, h Handler) {
	d.table[dispatchKey{component, command}] = h
}

// Dispatch looks up and invokes the handler for (component, command).
// Unknown combinations return ErrCommandNotFound rather than an error,
// matching the requirement that unrecognized requests don't drop the
// connection.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, component protoids.Component, command protoids.Command, body *tagcodec.Group) (*tagcodec.Group, protoids.ErrCode, error) {
	h, ok := d.table[dispatchKey{component, command}]
	if !ok {
		return nil, protoids.ErrCommandNotFound, nil
	}
	return h(ctx, s, body)
}
