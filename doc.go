/*
Package weft is a workflow orchestration engine for long-running, multi-step
tasks whose state lives in a checklist document on disk.

A single file — status.md — is both the human UI and the machine-readable
program counter: one task is marked active, the rest pending, done or
skipped. The engine advances through the checklist by dispatching each
focused task to a named unit of work (an "atom") from an explicit whitelist,
and it is built to survive crashes, corruption and adversarial filesystem
input without ever silently advancing past a task or silently rewriting
user intent.

# Architecture

  - pkg/domain — the typed task tree with its CRUD operations and the
    cross-node invariants (single focus, hierarchy, sibling uniqueness).
  - pkg/statusdoc — the strict parser/serializer for the checklist wire
    format; task names round-trip byte-for-byte.
  - pkg/integrity — sidecar hashes and rotated backups; hand edits are
    detected as a recoverable tamper state.
  - pkg/loom — surgical anchor-based file editing under advisory locks and
    an optimistic mtime fence.
  - pkg/events, pkg/state — the append-only event log with blob spillover,
    and the two-phase state persister with its write-ahead intent records.
  - internal/runtime — hydration, dispatch, the execution loop, circuit
    breaker and fractal descent into nested sub-workflows.

# Usage

	eng, err := weft.New(".")
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	if err := eng.Run(context.Background()); err != nil {
		log.Fatal(err)
	}

The weft CLI under cmd/weft wraps the same engine with start, resume,
status, validate, reset and reopen verbs.
*/
package weft
