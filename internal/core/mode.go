// Package core is the orchestration layer.  It wires the listener,
// the per-connection readers, the event queue and the chat
// coordinator into a running server, and provides a builder that
// assembles that server from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  chat  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of chatd.  It owns its full
// lifecycle from binding the listener to teardown, and returns when
// ctx is cancelled or the listener fails.
type Mode interface {
	Run(ctx context.Context) error
}
