package weft

import (
	"context"
	"log/slog"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/internal/runtime"
)

// Version is the library version, surfaced by the CLI.
const Version = "0.3.0"

// Engine is the public handle over the execution core.
type Engine struct {
	rt *runtime.Engine
}

// Option configures New.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger injects an application logger; the default is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New discovers the flow root scanning upward from dir and hydrates an
// engine: configuration, atom registry (with its startup consistency
// check), and the single-writer lock on the flow directory. Callers must
// Close the engine to release the lock.
func New(dir string, opts ...Option) (*Engine, error) {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	rt, err := runtime.New(dir, runtime.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return &Engine{rt: rt}, nil
}

// Run executes work until the checklist settles, a human gate parks the
// run, or an error halts it.
func (e *Engine) Run(ctx context.Context) error {
	return e.rt.Run(ctx)
}

// Step executes at most one unit of work. done reports that nothing is
// runnable right now.
func (e *Engine) Step(ctx context.Context) (done bool, err error) {
	return e.rt.RunNext(ctx)
}

// Validate runs the pure integrity check without mutating anything.
func (e *Engine) Validate() error {
	return e.rt.Validate()
}

// Reset reverts a task and its descendants to pending.
func (e *Engine) Reset(taskID string) error {
	return e.rt.Reset(taskID)
}

// Reopen moves a done task back to active.
func (e *Engine) Reopen(taskID string) error {
	return e.rt.Reopen(taskID)
}

// AcceptTamper adopts out-of-band edits to the status document.
func (e *Engine) AcceptTamper() error {
	return e.rt.AcceptTamper()
}

// DeclineTamper restores the status document from its newest backup.
func (e *Engine) DeclineTamper() error {
	return e.rt.DeclineTamper()
}

// Root returns the discovered project root.
func (e *Engine) Root() string {
	return e.rt.Root()
}

// Close flushes metrics and releases the flow-directory lock.
func (e *Engine) Close() {
	e.rt.Close()
}
