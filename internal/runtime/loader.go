package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/safepath"
	"github.com/aretw0/weft/pkg/statusdoc"
)

// StatusFile is the canonical root document name inside the flow dir.
const StatusFile = "status.md"

// LoadStatus reads the root status document through the integrity store,
// parses it, and validates the recursive ref structure (existence of
// sub-documents for active refs, cycles, depth).
func (e *Engine) LoadStatus() (*domain.StatusTree, error) {
	return e.loadDoc(StatusFile, true)
}

// loadDoc loads one status document by flow-relative name. checkRefs runs
// the cross-file validation; sub-documents loaded during recursion skip it
// (the recursion itself covers them).
func (e *Engine) loadDoc(name string, checkRefs bool) (*domain.StatusTree, error) {
	data, err := e.store.Load(name)
	if err != nil {
		return nil, err
	}
	tree, err := e.parser.Parse(data)
	if err != nil {
		return nil, err
	}
	if checkRefs {
		start, rerr := e.docRealPath(name)
		if rerr != nil {
			return nil, rerr
		}
		visited := map[string]bool{start: true}
		if err := e.validateRefs(tree, visited, 0); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// validateRefs walks every ref in the tree: the target must resolve inside
// the flow directory, must exist when its task is active, must itself
// parse, and following refs must never revisit a real path or exceed the
// depth cap. Grounded on the "paranoid mode" recursive cycle check of the
// status loader.
func (e *Engine) validateRefs(tree *domain.StatusTree, visited map[string]bool, depth int) error {
	if depth > e.cfg.MaxRefDepth {
		return &domain.ValidationError{Msg: fmt.Sprintf("max ref recursion depth %d exceeded", e.cfg.MaxRefDepth)}
	}

	var walkErr error
	tree.Walk(func(task *domain.Task) {
		if walkErr != nil || task.Ref == "" {
			return
		}

		if err := statusdoc.CheckRef(task.Ref); err != nil {
			walkErr = err
			return
		}
		target, err := safepath.Resolve(e.flowDir, task.Ref)
		if err != nil {
			walkErr = err
			return
		}

		if visited[target] {
			walkErr = &domain.ValidationError{Msg: fmt.Sprintf("ref cycle detected: %s loops back to %s", task.Ref, filepath.Base(target))}
			return
		}

		if _, statErr := os.Stat(target); statErr != nil {
			if task.Status == domain.StatusActive {
				walkErr = &domain.ValidationError{Msg: fmt.Sprintf("missing sub-status file: %s", task.Ref)}
			}
			return
		}

		sub, err := e.loadDoc(task.Ref, false)
		if err != nil {
			walkErr = fmt.Errorf("sub-status %s: %w", task.Ref, err)
			return
		}

		visited[target] = true
		walkErr = e.validateRefs(sub, visited, depth+1)
		delete(visited, target)
	})
	return walkErr
}

func (e *Engine) docRealPath(name string) (string, error) {
	full := filepath.Join(e.flowDir, name)
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			return full, nil
		}
		return "", err
	}
	return resolved, nil
}

// Cursor addresses the unit of work the engine will execute next: the
// deepest active task after the fractal descent through sub-documents.
type Cursor struct {
	// Doc is the flow-relative document holding the task.
	Doc string
	// Tree is Doc's parsed tree.
	Tree *domain.StatusTree
	// Task is the focused task inside Tree.
	Task *domain.Task
	// Chain is the virtual-ID path of proxy tasks from the root document
	// down to (and including) Task — e.g. ["1", "2.1", "3"].
	Chain []string
}

// StateID is the persisted identity of the cursor: chain IDs joined by '#',
// so nested sub-flow state lands in parent#child files.
func (c *Cursor) StateID() string {
	id := ""
	for i, part := range c.Chain {
		if i > 0 {
			id += "#"
		}
		id += part
	}
	return id
}

// StepIndex is the 1-based document-order position of the focused task in
// its own document — the "step 2/3" number surfaced in state files.
func (c *Cursor) StepIndex() (index, total int) {
	i := 0
	c.Tree.Walk(func(t *domain.Task) {
		i++
		if t == c.Task {
			index = i
		}
	})
	return index, i
}

// FindActive locates the execution cursor.
//
// The descent implements the fractal zoom: an active task with a ref is a
// proxy for a sub-document, so the search re-roots there and repeats. When
// no task is active anywhere, Smart Resume picks the document-order-first
// pending leaf of the outermost document that still has one. A nil cursor
// with nil error means the whole tree is settled — nothing to run.
func (e *Engine) FindActive() (*Cursor, error) {
	tree, err := e.LoadStatus()
	if err != nil {
		return nil, err
	}
	return e.descend(StatusFile, tree, nil, 0)
}

func (e *Engine) descend(doc string, tree *domain.StatusTree, chain []string, depth int) (*Cursor, error) {
	// Workflow composition depth, distinct from the load-time ref check:
	// this cap catches cycles introduced at runtime.
	if depth > e.cfg.MaxFlowDepth {
		return nil, &domain.ValidationError{Msg: "workflow composition depth cap exceeded"}
	}

	task := tree.DeepestActive()
	if task == nil {
		task = tree.FirstPendingLeaf()
	}
	if task == nil {
		return nil, nil
	}

	cursor := &Cursor{
		Doc:   doc,
		Tree:  tree,
		Task:  task,
		Chain: append(append([]string{}, chain...), task.ID),
	}

	if task.Status == domain.StatusActive && task.HasRef() {
		sub, err := e.loadDoc(task.Ref, false)
		if err != nil {
			return nil, fmt.Errorf("sub-status %s: %w", task.Ref, err)
		}
		deeper, err := e.descend(task.Ref, sub, cursor.Chain, depth+1)
		if err != nil {
			return nil, err
		}
		if deeper != nil {
			return deeper, nil
		}
		// The sub-flow is settled but the proxy is still active: surface
		// the proxy so the engine can close it out.
		return cursor, nil
	}

	return cursor, nil
}
