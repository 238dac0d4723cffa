/*
Package atom defines the unit of work the engine dispatches to, and the
builtin atoms every installation carries.

An Atom never sees engine internals: it receives a read-only snapshot of
the workflow context plus its call arguments, and communicates exclusively
through the returned Result — a tagged value, not an error, so control flow
stays in the engine's state machine.
*/
package atom

import (
	"context"

	"github.com/aretw0/weft/pkg/tools"
)

// Status is the tagged outcome of an atom run.
type Status string

const (
	Success Status = "success"
	Failure Status = "failure"
	Error   Status = "error"
	// Waiting yields control back to the engine without completing the
	// step: a human gate or an external dependency.
	Waiting Status = "waiting"
)

// EventDraft is an event an atom asks the engine to append on its behalf.
type EventDraft struct {
	Kind     string
	Payload  any
	Preserve bool
}

// Result is what every atom returns. Exports are overlaid onto the workflow
// context (last writer wins); keys in the engine-owned namespaces are
// discarded by the engine.
type Result struct {
	Status  Status
	Message string
	Exports map[string]any
	Events  []EventDraft
}

// Snapshot is the read-only view of the workflow context an atom receives.
// It is a defensive copy: writing to it affects nothing.
type Snapshot map[string]any

// String returns the string value for key, or "" when absent or non-string.
func (s Snapshot) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Args carries the per-dispatch parameters of a call.
type Args struct {
	TaskID   string
	TaskName string
	TaskRef  string
	// Params are atom-specific key/values (e.g. parsed from config).
	Params map[string]any
	// Tools is the scoped capability surface granted for this dispatch.
	Tools *tools.Toolbox
}

// Atom is a registered, named unit of work.
type Atom interface {
	Name() string
	Run(ctx context.Context, snap Snapshot, args Args) Result
}

// Cleaner is implemented by atoms that hold external resources; the engine
// calls Cleanup under a short time budget when a run is interrupted.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Factory constructs a fresh atom instance.
type Factory func() Atom
