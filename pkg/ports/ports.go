/*
Package ports defines the driven-side interfaces of the engine, following
Hexagonal Architecture: the runtime core depends on these contracts, and
the concrete adapters (integrity store, state persister, event log, atom
registry) satisfy them, which ports_test compile-asserts.
*/
package ports

import (
	"github.com/aretw0/weft/pkg/atom"
	"github.com/aretw0/weft/pkg/events"
	"github.com/aretw0/weft/pkg/state"
)

// DocumentStore is the integrity-checked byte store for status documents.
type DocumentStore interface {
	// Load returns the document bytes, verifying integrity metadata.
	Load(name string) ([]byte, error)
	// Save writes atomically: backup, replace, sidecar update.
	Save(name string, data []byte) error
	// Accept adopts out-of-band edits (rewrites the sidecar).
	Accept(name string) error
	// Decline restores the newest backup over the document.
	Decline(name string) error
}

// StateStore persists workflow state and write-ahead intent records.
type StateStore interface {
	Load(taskID string) (*state.WorkflowState, error)
	Save(st *state.WorkflowState) error
	Delete(taskID string) error
	List() ([]string, error)

	ReadIntent(taskID string) (*state.IntentRecord, error)
	WriteIntent(rec *state.IntentRecord) error
	ClearIntent(taskID string) error
}

// EventSink receives workflow events.
type EventSink interface {
	Emit(taskID, stepID, kind string, payload any, preserve bool) (events.Event, error)
	GC(taskID string) error
}

// AtomResolver serves the dispatch whitelist.
type AtomResolver interface {
	Has(name string) bool
	Resolve(name string) (atom.Atom, error)
}
