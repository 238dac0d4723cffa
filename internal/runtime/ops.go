package runtime

import (
	"fmt"

	"github.com/aretw0/weft/pkg/domain"
)

// Validate runs the pure integrity check: hash verification, grammar,
// invariants and the recursive ref structure. No state is mutated.
func (e *Engine) Validate() error {
	_, err := e.LoadStatus()
	return err
}

// StatusBytes returns the raw root document (integrity-checked).
func (e *Engine) StatusBytes() ([]byte, error) {
	return e.store.Load(StatusFile)
}

// Summary is the non-mutating context report behind the status verb.
type Summary struct {
	Doc        string
	TaskID     string
	TaskName   string
	TaskStatus domain.Status
	StepIndex  int
	StepTotal  int
	Headers    map[string]string
}

// Summarize reports the current focus without mutating anything.
func (e *Engine) Summarize() (*Summary, error) {
	tree, err := e.LoadStatus()
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string)
	for _, k := range tree.Headers.Keys() {
		v, _ := tree.Headers.Get(k)
		headers[k] = v
	}

	cursor, err := e.descend(StatusFile, tree, nil, 0)
	if err != nil {
		return nil, err
	}
	s := &Summary{Doc: StatusFile, Headers: headers}
	if cursor != nil {
		s.Doc = cursor.Doc
		s.TaskID = cursor.StateID()
		s.TaskName = cursor.Task.Name
		s.TaskStatus = cursor.Task.Status
		s.StepIndex, s.StepTotal = cursor.StepIndex()
	}
	return s, nil
}

// StartTask explicitly focuses a task in the root document before a run.
func (e *Engine) StartTask(id string) error {
	tree, err := e.LoadStatus()
	if err != nil {
		return err
	}
	task, err := tree.Find(id)
	if err != nil {
		return err
	}
	cursor := &Cursor{Doc: StatusFile, Tree: tree, Task: task, Chain: []string{task.ID}}
	return e.activatePath(cursor)
}

// Reset reverts a task to PENDING — recursively, together with every
// descendant, because a half-reset subtree under a DONE node cannot
// satisfy the hierarchy invariants. DONE ancestors reopen to ACTIVE so the
// document stays coherent. The pre-write backup preserves the old state.
func (e *Engine) Reset(id string) error {
	return e.adjust(id, func(tree *domain.StatusTree, task *domain.Task) {
		var reset func(*domain.Task)
		reset = func(t *domain.Task) {
			t.Status = domain.StatusPending
			for _, c := range t.Children {
				reset(c)
			}
		}
		reset(task)
		for p := tree.Parent(task); p != nil; p = tree.Parent(p) {
			if p.Status == domain.StatusDone {
				p.Status = domain.StatusActive
			}
		}
	})
}

// Reopen moves a DONE task back to ACTIVE, reopening DONE ancestors along
// the way.
func (e *Engine) Reopen(id string) error {
	return e.adjust(id, func(tree *domain.StatusTree, task *domain.Task) {
		task.Status = domain.StatusActive
		for p := tree.Parent(task); p != nil; p = tree.Parent(p) {
			if p.Status == domain.StatusDone {
				p.Status = domain.StatusActive
			}
		}
	})
}

// adjust applies a structural status rewrite and persists it. The rewrite
// bypasses the CRUD transition guards (these verbs exist precisely to move
// against the normal flow), but the serializer still enforces the full
// invariants — an adjustment producing an inconsistent tree is refused.
func (e *Engine) adjust(id string, fn func(*domain.StatusTree, *domain.Task)) error {
	tree, err := e.LoadStatus()
	if err != nil {
		return err
	}
	task, err := tree.Find(id)
	if err != nil {
		return err
	}

	fn(tree, task)

	if err := e.saveDoc(StatusFile, tree); err != nil {
		return err
	}

	// A rewound task starts from a clean slate.
	if err := e.persister.ClearIntent(id); err != nil {
		return err
	}
	if err := e.persister.Delete(id); err != nil {
		return err
	}
	e.logger.Info("task adjusted", "task_id", id, "status", task.Status)
	return nil
}

// AcceptTamper adopts out-of-band edits to the root document.
func (e *Engine) AcceptTamper() error {
	return e.store.Accept(StatusFile)
}

// DeclineTamper restores the root document from the newest backup.
func (e *Engine) DeclineTamper() error {
	return e.store.Decline(StatusFile)
}

// ActiveContext returns a copy of the engine context for inspection.
func (e *Engine) ActiveContext() map[string]any {
	out := make(map[string]any, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

// String implements fmt.Stringer for debug logging.
func (e *Engine) String() string {
	return fmt.Sprintf("weft.Engine(root=%s)", e.root)
}
