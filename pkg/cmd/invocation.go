// Package cmd is the transport-agnostic handler core: a handler receives a
// context and an Invocation and returns an error. Middleware wraps handlers for
// cross-cutting behaviour (panic recovery, logging) without knowing whether the
// invocation came from a slash command, a component or a text message.
package cmd

import "context"

// Invocation carries what every adapter can provide: the matched name, the raw
// arguments (text commands) and an opaque payload. Adapters set Data to their
// own event type.
type Invocation struct {
	Name string
	Kind string
	Args []string
	Data any
}

// Handler runs one invocation.
type Handler func(ctx context.Context, inv *Invocation) error
