// Package runtime is the execution core: hydration, the dispatch router,
// the run loop with its write-ahead intent log and circuit breaker, and the
// fractal descent into nested sub-workflows.
package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/pkg/atom"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/events"
	"github.com/aretw0/weft/pkg/integrity"
	"github.com/aretw0/weft/pkg/loom"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/aretw0/weft/pkg/registry"
	"github.com/aretw0/weft/pkg/state"
	"github.com/aretw0/weft/pkg/statusdoc"
	"github.com/aretw0/weft/pkg/tools"
)

// cleanupBudget bounds an atom's Cleanup hook on interrupt.
const cleanupBudget = 2 * time.Second

// Engine drives a status document: it finds the focused task, dispatches
// it to an atom, and advances the cursor. All configuration is carried by
// value; the only shared mutable state is the filesystem.
type Engine struct {
	cfg     config.Config
	root    string
	flowDir string
	logger  *slog.Logger

	registry  ports.AtomResolver
	store     ports.DocumentStore
	events    ports.EventSink
	persister ports.StateStore
	parser    *statusdoc.Parser
	loom      *loom.Loom
	metrics   *metrics

	// context is the engine-owned workflow context; atoms see copies.
	context map[string]any

	holdsLock bool
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the application logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New hydrates an engine: discover the root upward from dir, load config
// and registry, run the registry consistency check, and become the single
// writer for the flow directory.
func New(dir string, opts ...Option) (*Engine, error) {
	e := &Engine{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(e)
	}

	root, flowDir, err := FindRoot(dir, config.Default().MarkerDirs)
	if err != nil {
		return nil, err
	}
	e.root, e.flowDir = root, flowDir

	cfg, err := config.Load(flowDir)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg

	reg, err := registry.Load(filepath.Join(flowDir, "flow.registry.json"), atom.Builtins(), e.logger)
	if err != nil {
		return nil, err
	}
	e.registry = reg

	e.store = integrity.New(flowDir, integrity.WithKeep(cfg.BackupKeep), integrity.WithLogger(e.logger))
	e.events = events.NewLog(flowDir, events.WithRotateBytes(cfg.EventRotateBytes), events.WithLogger(e.logger))
	e.persister = state.NewPersister(flowDir, e.logger)
	e.parser = statusdoc.NewParser()
	e.loom = loom.New(root,
		loom.WithWhitelist(cfg.Scope),
		loom.WithMaxFileSize(cfg.LoomMaxBytes),
		loom.WithLockTimings(cfg.LockTimeout(), cfg.LockStale()),
		loom.WithLogger(e.logger),
	)
	e.metrics = newMetrics()

	e.context = map[string]any{
		"system.root":     root,
		"system.flow_dir": flowDir,
	}

	if err := e.acquireEngineLock(); err != nil {
		return nil, err
	}
	return e, nil
}

// Root returns the project root.
func (e *Engine) Root() string { return e.root }

// FlowDir returns the flow directory.
func (e *Engine) FlowDir() string { return e.flowDir }

// Store exposes the document store for tamper resolution (accept/decline).
func (e *Engine) Store() ports.DocumentStore { return e.store }

// Close releases the writer lock and flushes metrics.
func (e *Engine) Close() {
	if err := e.metrics.write(filepath.Join(e.flowDir, "logs", "metrics.prom")); err != nil {
		e.logger.Warn("metrics flush failed", "err", err)
	}
	e.releaseEngineLock()
}

// Run executes steps until the tree settles, a step parks in WAITING, an
// error halts the run, or the context is cancelled. A handler of last
// resort converts panics into a crash dump and an error — nothing escapes.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "weft: unexpected panic: %v\n", r)
			e.logger.Error("unexpected panic in run loop", "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	for {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		done, stepErr := e.RunNext(ctx)
		if stepErr != nil {
			return stepErr
		}
		if done {
			return nil
		}
	}
}

// RunNext executes exactly one unit of work. done reports that there is
// nothing further to run right now (tree settled or a step parked in
// WAITING).
func (e *Engine) RunNext(ctx context.Context) (done bool, err error) {
	cursor, err := e.FindActive()
	if err != nil {
		var intErr *integrity.IntegrityError
		if errors.As(err, &intErr) {
			e.metrics.tamper.Inc()
		}
		return false, err
	}
	if cursor == nil {
		e.logger.Info("status tree settled; nothing to run")
		return true, nil
	}

	task := cursor.Task
	stateID := cursor.StateID()
	stepID := task.ID

	// Proxy tasks delegate to their sub-document; they execute nothing
	// themselves. FindActive only surfaces one when it needs bookkeeping.
	if task.HasRef() {
		return e.stepProxy(cursor)
	}

	st, err := e.persister.Load(stateID)
	if err != nil {
		return false, err
	}
	if st == nil {
		st = state.NewWorkflowState(stateID)
		if i := strings.LastIndexByte(stateID, '#'); i >= 0 {
			st.ParentRef = stateID[:i]
		}
	}
	rec := st.Step(stepID)

	// Circuit breaker: a leftover intent lock is the write-ahead record of
	// a crashed or failed attempt.
	attempt := 1
	intent, err := e.persister.ReadIntent(stateID)
	if err != nil {
		return false, err
	}
	if intent != nil {
		if intent.PID != os.Getpid() && pidAlive(intent.PID) {
			return false, fmt.Errorf("%w: task %s held by pid %d", ErrOwnedElsewhere, stateID, intent.PID)
		}
		if intent.StepID == stepID {
			attempt = intent.Attempt + 1
			e.metrics.retries.Inc()
			e.logger.Warn("recovering crashed step", "task_id", stateID, "step", stepID, "attempt", attempt)
		}
		if err := e.persister.ClearIntent(stateID); err != nil {
			return false, err
		}
	}

	if attempt > e.cfg.RetryLimit {
		return false, e.tripBreaker(cursor, st, rec, attempt)
	}

	if err := e.persister.WriteIntent(&state.IntentRecord{TaskID: stateID, StepID: stepID, Attempt: attempt}); err != nil {
		return false, err
	}

	if task.Status != domain.StatusActive {
		if err := e.activatePath(cursor); err != nil {
			return false, err
		}
	}

	a, route, dispatchErr := e.Dispatch(task)
	if dispatchErr != nil {
		return false, e.failStep(cursor, st, rec, dispatchErr, "dispatch failed")
	}

	e.context["system.task_id"] = stateID
	e.context["system.task_name"] = task.Name
	e.context["system.task_ref"] = task.Ref

	rec.Status = state.StepInProgress
	rec.Attempts = attempt
	rec.StartedAt = time.Now().UTC().Format(time.RFC3339Nano)
	st.Status = state.RunInProgress
	st.CurrentStepIndex, _ = cursor.StepIndex()
	if err := e.persister.Save(st); err != nil {
		return false, err
	}
	_, _ = e.events.Emit(stateID, stepID, "step_started", map[string]any{
		"task_name": task.Name,
		"route":     route,
		"atom":      a.Name(),
		"attempt":   attempt,
	}, false)

	result := e.runAtom(ctx, a, e.snapshot(), atom.Args{
		TaskID:   stateID,
		TaskName: task.Name,
		TaskRef:  task.Ref,
		Params:   map[string]any{},
		Tools:    tools.NewToolbox(tools.RoleEditor, e.root, e.loom),
	})

	for _, draft := range result.Events {
		_, _ = e.events.Emit(stateID, stepID, draft.Kind, draft.Payload, draft.Preserve)
	}

	if ctx.Err() != nil {
		return false, e.interruptStep(a, st, rec, stateID)
	}

	return e.settleStep(cursor, st, rec, result)
}

// runAtom calls the atom under the last-resort handler: a panicking atom
// becomes an Error result, not a dead engine.
func (e *Engine) runAtom(ctx context.Context, a atom.Atom, snap atom.Snapshot, args atom.Args) (result atom.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("atom panicked", "atom", a.Name(), "panic", r)
			result = atom.Result{Status: atom.Error, Message: fmt.Sprintf("atom panicked: %v", r)}
		}
	}()
	return a.Run(ctx, snap, args)
}

// settleStep applies an atom result to state, events and the status tree.
func (e *Engine) settleStep(cursor *Cursor, st *state.WorkflowState, rec *state.StepRecord, result atom.Result) (bool, error) {
	stateID := cursor.StateID()

	switch result.Status {
	case atom.Success:
		exports, digest, expErr := e.sanitizeExports(stateID, result.Exports)
		if expErr != nil {
			return false, e.failStep(cursor, st, rec, expErr, "exports rejected")
		}
		// Overlay policy: last writer wins, no deep merge.
		for k, v := range exports {
			e.context[k] = v
			st.ContextCache[k] = v
		}

		rec.Status = state.StepCompleted
		rec.CompletedAt = time.Now().UTC().Format(time.RFC3339Nano)
		rec.ExportDigest = digest
		st.Status = state.RunCompleted
		if err := e.persister.ClearIntent(stateID); err != nil {
			return false, err
		}
		if err := e.persister.Save(st); err != nil {
			return false, err
		}
		if err := e.completeTask(cursor); err != nil {
			return false, err
		}
		e.metrics.steps.WithLabelValues("completed").Inc()
		_, _ = e.events.Emit(stateID, rec.StepID, "step_completed", map[string]any{"message": result.Message}, false)
		return false, e.collectIfSettled(cursor, st)

	case atom.Waiting:
		rec.Status = state.StepWaiting
		if err := e.persister.ClearIntent(stateID); err != nil {
			return false, err
		}
		if err := e.persister.Save(st); err != nil {
			return false, err
		}
		e.metrics.steps.WithLabelValues("waiting").Inc()
		_, _ = e.events.Emit(stateID, rec.StepID, "step_waiting", map[string]any{"message": result.Message}, false)
		e.logger.Info("step parked waiting", "task_id", stateID, "msg", result.Message)
		return true, nil

	default: // Failure, Error
		return false, e.failStep(cursor, st, rec, fmt.Errorf("%s", result.Message), string(result.Status))
	}
}

// failStep records a failed attempt. The intent lock written before
// dispatch stays on disk: it is the attempt counter the circuit breaker
// reads at the next boot. Retry happens only through that mechanism.
func (e *Engine) failStep(cursor *Cursor, st *state.WorkflowState, rec *state.StepRecord, cause error, kind string) error {
	stateID := cursor.StateID()
	rec.Status = state.StepError
	rec.Error = cause.Error()
	st.Status = state.RunFailed
	if err := e.persister.Save(st); err != nil {
		return err
	}
	e.metrics.steps.WithLabelValues("error").Inc()
	_, _ = e.events.Emit(stateID, rec.StepID, "step_error", map[string]any{
		"kind":  kind,
		"error": cause.Error(),
	}, false)
	return &HaltError{TaskID: stateID, Err: cause}
}

// interruptStep handles a trapped signal observed after an atom returned:
// mark INTERRUPTED, give the atom its cleanup budget, flush, yield.
func (e *Engine) interruptStep(a atom.Atom, st *state.WorkflowState, rec *state.StepRecord, stateID string) error {
	rec.Status = state.StepInterrupted
	if cleaner, ok := a.(atom.Cleaner); ok {
		cctx, cancel := context.WithTimeout(context.Background(), cleanupBudget)
		if err := cleaner.Cleanup(cctx); err != nil {
			e.logger.Warn("atom cleanup failed", "atom", a.Name(), "err", err)
		}
		cancel()
	}
	_ = e.persister.ClearIntent(stateID)
	if err := e.persister.Save(st); err != nil {
		return err
	}
	e.metrics.steps.WithLabelValues("interrupted").Inc()
	_, _ = e.events.Emit(stateID, rec.StepID, "step_interrupted", nil, false)
	return ErrInterrupted
}

// tripBreaker marks a task fatal after the retry bound is exhausted. The
// wire format has no fatal marker, so the task is retired as skipped and
// the document carries a Fatal header; the state file holds the FATAL step.
func (e *Engine) tripBreaker(cursor *Cursor, st *state.WorkflowState, rec *state.StepRecord, attempt int) error {
	stateID := cursor.StateID()
	rec.Status = state.StepFatal
	rec.Attempts = attempt
	st.Status = state.RunFailed
	if err := e.persister.Save(st); err != nil {
		return err
	}

	skipped := domain.StatusSkipped
	if uerr := cursor.Tree.UpdateTask(cursor.Task.ID, domain.TaskUpdate{Status: &skipped}); uerr != nil {
		e.logger.Warn("could not retire fatal task in document", "task_id", stateID, "err", uerr)
	} else {
		cursor.Tree.Headers.Set("Fatal", fmt.Sprintf("%s (attempt %d)", cursor.Task.Name, attempt))
		if serr := e.saveDoc(cursor.Doc, cursor.Tree); serr != nil {
			return serr
		}
	}

	e.metrics.fatals.Inc()
	_, _ = e.events.Emit(stateID, rec.StepID, "task_fatal", map[string]any{"attempt": attempt}, false)
	e.logger.Error("circuit breaker tripped", "task_id", stateID, "attempt", attempt)
	return &FatalRetryExceededError{TaskID: stateID, Attempt: attempt, Limit: e.cfg.RetryLimit}
}

// stepProxy advances a task that fronts a sub-document. A pending proxy is
// activated (the next iteration descends into it); an active proxy whose
// sub-flow has settled is closed out.
func (e *Engine) stepProxy(cursor *Cursor) (bool, error) {
	switch cursor.Task.Status {
	case domain.StatusPending:
		if err := e.activatePath(cursor); err != nil {
			return false, err
		}
		return false, nil
	case domain.StatusActive:
		if err := e.completeTask(cursor); err != nil {
			return false, err
		}
		_, _ = e.events.Emit(cursor.StateID(), cursor.Task.ID, "subflow_completed", map[string]any{"ref": cursor.Task.Ref}, false)
		return false, nil
	}
	return true, nil
}

// activatePath marks the cursor task active, first activating any pending
// ancestors top-down so the hierarchy rule holds at every intermediate
// write.
func (e *Engine) activatePath(cursor *Cursor) error {
	var chain []*domain.Task
	for p := cursor.Tree.Parent(cursor.Task); p != nil; p = cursor.Tree.Parent(p) {
		chain = append([]*domain.Task{p}, chain...)
	}
	chain = append(chain, cursor.Task)

	active := domain.StatusActive
	for _, t := range chain {
		if t.Status == domain.StatusActive {
			continue
		}
		if err := cursor.Tree.UpdateTask(t.ID, domain.TaskUpdate{Status: &active}); err != nil {
			return err
		}
	}
	return e.saveDoc(cursor.Doc, cursor.Tree)
}

// completeTask marks the cursor task done (auto-propagation bubbles run in
// the tree) and saves the document.
func (e *Engine) completeTask(cursor *Cursor) error {
	done := domain.StatusDone
	if err := cursor.Tree.UpdateTask(cursor.Task.ID, domain.TaskUpdate{Status: &done}); err != nil {
		return err
	}
	return e.saveDoc(cursor.Doc, cursor.Tree)
}

// collectIfSettled garbage-collects a finished run: when the cursor's
// document has no active or pending work left, the run is COMPLETED — its
// event blobs (minus preserved ones) and state file are removed.
func (e *Engine) collectIfSettled(cursor *Cursor, st *state.WorkflowState) error {
	settled := true
	cursor.Tree.Walk(func(t *domain.Task) {
		if t.Status == domain.StatusActive || t.Status == domain.StatusPending {
			settled = false
		}
	})
	if !settled {
		return nil
	}

	stateID := cursor.StateID()
	st.Status = state.RunCompleted
	if err := e.persister.Save(st); err != nil {
		return err
	}
	if err := e.events.GC(stateID); err != nil {
		e.logger.Warn("event blob gc failed", "task_id", stateID, "err", err)
	}
	if err := e.persister.Delete(stateID); err != nil {
		return err
	}
	e.logger.Info("run completed, state collected", "task_id", stateID)
	return nil
}

// sanitizeExports enforces the export contract: engine-owned namespaces
// are stripped with a warning, and the remainder must serialize — an atom
// cannot hand back state the persistence layer would choke on later.
func (e *Engine) sanitizeExports(stateID string, exports map[string]any) (map[string]any, string, error) {
	clean := make(map[string]any, len(exports))
	for k, v := range exports {
		if strings.HasPrefix(k, "config.") || strings.HasPrefix(k, "system.") {
			e.logger.Warn("discarding export into engine-owned namespace", "task_id", stateID, "key", k)
			continue
		}
		clean[k] = v
	}

	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, "", &ContractViolationError{TaskID: stateID, Reason: fmt.Sprintf("non-serializable exports: %v", err)}
	}
	sum := sha256.Sum256(raw)
	return clean, hex.EncodeToString(sum[:8]), nil
}

// snapshot returns the read-only copy of the context handed to atoms.
func (e *Engine) snapshot() atom.Snapshot {
	snap := make(atom.Snapshot, len(e.context))
	for k, v := range e.context {
		snap[k] = v
	}
	return snap
}

// saveDoc serializes a tree and writes it through the integrity store
// (backup, atomic replace, sidecar update).
func (e *Engine) saveDoc(doc string, tree *domain.StatusTree) error {
	data, err := statusdoc.Serialize(tree)
	if err != nil {
		return err
	}
	return e.store.Save(doc, data)
}
