package domain

import "fmt"

// StatusTree represents an entire status document: the ordered header block
// plus a forest of root tasks.
//
// Virtual IDs are positional ("1", "1.2", "1.2.3") and assigned by Reindex.
// Structural mutations (AddTask, RemoveTask) invalidate them; addressing
// operations return ErrStaleID until the next Reindex. Status-only updates
// keep IDs valid.
type StatusTree struct {
	Headers *Headers
	Roots   []*Task

	// BOM records whether the source document carried a UTF-8 byte order
	// mark, so a save can reproduce the input byte-for-byte.
	BOM bool

	idsValid bool
	index    map[string]*Task
	parents  map[*Task]*Task
}

// NewStatusTree returns an empty, indexed tree.
func NewStatusTree() *StatusTree {
	t := &StatusTree{Headers: NewHeaders()}
	t.Reindex()
	return t
}

// Reindex recomputes virtual IDs, the ID index and the parent lookup table.
// Call after Load or after structural modification.
func (t *StatusTree) Reindex() {
	t.index = make(map[string]*Task)
	t.parents = make(map[*Task]*Task)
	t.assignIDs(t.Roots, "", nil, 0)
	t.idsValid = true
}

func (t *StatusTree) assignIDs(tasks []*Task, prefix string, parent *Task, depth int) {
	for i, task := range tasks {
		id := fmt.Sprintf("%d", i+1)
		if prefix != "" {
			id = prefix + "." + id
		}
		task.ID = id
		task.IndentLevel = depth
		t.index[id] = task
		t.parents[task] = parent
		if len(task.Children) > 0 {
			t.assignIDs(task.Children, id, task, depth+1)
		}
	}
}

// Find returns the task with the given virtual ID.
func (t *StatusTree) Find(id string) (*Task, error) {
	if !t.idsValid {
		return nil, ErrStaleID
	}
	task, ok := t.index[id]
	if !ok {
		return nil, &IDError{ID: id}
	}
	return task, nil
}

// Parent returns the parent of task, or nil for root tasks.
// Valid only while IDs are valid.
func (t *StatusTree) Parent(task *Task) *Task {
	return t.parents[task]
}

// ActiveTask returns the first active task in document order (the outermost
// task of the active chain), or nil.
func (t *StatusTree) ActiveTask() *Task {
	return findStatus(t.Roots, StatusActive)
}

// DeepestActive returns the deepest active node in document order, or nil.
// Children are inspected before their parent so a focused subtree resolves
// to its working leaf.
func (t *StatusTree) DeepestActive() *Task {
	return deepestActive(t.Roots)
}

func deepestActive(tasks []*Task) *Task {
	for _, task := range tasks {
		if deep := deepestActive(task.Children); deep != nil {
			return deep
		}
		if task.Status == StatusActive {
			return task
		}
	}
	return nil
}

// FirstPendingLeaf implements Smart Resume: the document-order-first pending
// leaf. A pending task with pending descendants resolves to its first pending
// leaf; a pending task with no workable descendants is itself the leaf.
func (t *StatusTree) FirstPendingLeaf() *Task {
	return firstPendingLeaf(t.Roots)
}

func firstPendingLeaf(tasks []*Task) *Task {
	for _, task := range tasks {
		if task.Status == StatusPending {
			if leaf := firstPendingLeaf(task.Children); leaf != nil {
				return leaf
			}
			return task
		}
		// An active or otherwise open parent may still shelter pending work.
		if leaf := firstPendingLeaf(task.Children); leaf != nil {
			return leaf
		}
	}
	return nil
}

// AddTask appends or inserts a new task under parentID ("root" for top level).
// index < 0 appends; otherwise the task is inserted at the 0-based position.
// Structural change: virtual IDs are invalidated.
func (t *StatusTree) AddTask(parentID, name string, status Status, index int) error {
	if !status.Valid() {
		return &ValidationError{Msg: fmt.Sprintf("invalid status '%s'", status)}
	}

	var parent *Task
	siblings := &t.Roots
	if parentID != "root" {
		p, err := t.Find(parentID)
		if err != nil {
			return err
		}
		parent = p
		siblings = &p.Children
	}

	for _, s := range *siblings {
		if s.Name == name {
			return &ValidationError{Msg: fmt.Sprintf("duplicate name '%s' in siblings", name)}
		}
	}

	if parent != nil && parent.Status == StatusDone && !status.Terminal() {
		return &StateError{Msg: fmt.Sprintf("cannot add %s child '%s' to done parent '%s'", status, name, parent.Name)}
	}

	if status == StatusActive {
		if err := t.checkActivation(parent); err != nil {
			return err
		}
	}

	task := &Task{Name: name, Status: status}
	if parent != nil {
		task.IndentLevel = parent.IndentLevel + 1
	}

	if index < 0 || index >= len(*siblings) {
		*siblings = append(*siblings, task)
	} else {
		*siblings = append(*siblings, nil)
		copy((*siblings)[index+1:], (*siblings)[index:])
		(*siblings)[index] = task
	}

	t.idsValid = false
	return nil
}

// TaskUpdate carries the optional fields of an UpdateTask call.
// ContextAnchor, when set, must equal the task's current name — a guard
// against editing the wrong node after concurrent changes.
type TaskUpdate struct {
	Name          *string
	Status        *Status
	ContextAnchor *string
}

// UpdateTask mutates a task's name and/or status, enforcing the activation
// rules and running auto-propagation. The tree is unchanged on error.
func (t *StatusTree) UpdateTask(id string, upd TaskUpdate) error {
	task, err := t.Find(id)
	if err != nil {
		return err
	}

	if upd.ContextAnchor != nil && task.Name != *upd.ContextAnchor {
		return &AnchorError{Want: *upd.ContextAnchor, Got: task.Name}
	}

	if upd.Name != nil && *upd.Name != task.Name {
		siblings := t.siblingsOf(task)
		for _, s := range siblings {
			if s != task && s.Name == *upd.Name {
				return &ValidationError{Msg: fmt.Sprintf("duplicate name '%s' in siblings", *upd.Name)}
			}
		}
	}

	if upd.Status != nil {
		status := *upd.Status
		if !status.Valid() {
			return &ValidationError{Msg: fmt.Sprintf("invalid status '%s'", status)}
		}
		if status == StatusActive && task.Status != StatusActive {
			if err := t.checkActivation(t.parents[task]); err != nil {
				return err
			}
		}
		if status == StatusDone {
			if bad := firstOpenDescendant(task); bad != nil {
				return &StateError{Msg: fmt.Sprintf("cannot mark '%s' done: descendant '%s' is %s", task.Name, bad.Name, bad.Status)}
			}
		}
	}

	// Checks passed; apply.
	if upd.Name != nil {
		task.Name = *upd.Name
	}
	if upd.Status != nil && *upd.Status != task.Status {
		task.Status = *upd.Status
		t.propagate(task)
	}
	return nil
}

// RemoveTask deletes a node and its subtree. Virtual IDs are invalidated;
// reindexing is deferred to the next load.
func (t *StatusTree) RemoveTask(id string) error {
	task, err := t.Find(id)
	if err != nil {
		return err
	}

	siblings := &t.Roots
	if parent := t.parents[task]; parent != nil {
		siblings = &parent.Children
	}
	for i, s := range *siblings {
		if s == task {
			*siblings = append((*siblings)[:i], (*siblings)[i+1:]...)
			break
		}
	}

	t.idsValid = false
	return nil
}

// checkActivation enforces the single-focus rule. Activating a task is legal
// only when every currently active task lies on the target's ancestor chain:
// the focus may deepen, never fork. The parent (when present) must itself be
// active — a done parent is never implicitly reopened.
func (t *StatusTree) checkActivation(parent *Task) error {
	if parent != nil && parent.Status != StatusActive {
		return &StateError{Msg: fmt.Sprintf("parent '%s' is not active", parent.Name)}
	}

	ancestors := make(map[*Task]struct{})
	for p := parent; p != nil; p = t.parents[p] {
		ancestors[p] = struct{}{}
	}

	var actives []*Task
	collectStatus(t.Roots, StatusActive, &actives)
	for _, a := range actives {
		if _, ok := ancestors[a]; !ok {
			return &StateError{Msg: fmt.Sprintf("task '%s' is already active", a.Name)}
		}
	}
	return nil
}

// propagate bubbles status changes upward:
//
//  1. Activation bubble — a child going active or done promotes a pending
//     parent to active (work is in progress).
//  2. Completion bubble — when the last non-skipped child is done, the
//     parent becomes done, and so on up.
func (t *StatusTree) propagate(task *Task) {
	parent := t.parents[task]
	if parent == nil {
		return
	}

	if task.Status == StatusActive || task.Status == StatusDone {
		if parent.Status == StatusPending {
			parent.Status = StatusActive
			t.propagate(parent)
		}
	}

	if task.Status == StatusDone {
		for _, s := range parent.Children {
			if s.Status != StatusDone && s.Status != StatusSkipped {
				return
			}
		}
		parent.Status = StatusDone
		t.propagate(parent)
	}
}

func (t *StatusTree) siblingsOf(task *Task) []*Task {
	if parent := t.parents[task]; parent != nil {
		return parent.Children
	}
	return t.Roots
}

func firstOpenDescendant(task *Task) *Task {
	for _, c := range task.Children {
		if !c.Status.Terminal() {
			return c
		}
		if bad := firstOpenDescendant(c); bad != nil {
			return bad
		}
	}
	return nil
}

func findStatus(tasks []*Task, status Status) *Task {
	for _, task := range tasks {
		if task.Status == status {
			return task
		}
		if found := findStatus(task.Children, status); found != nil {
			return found
		}
	}
	return nil
}

// ValidateConsistency runs the deep invariant checks over the whole tree:
// single focus, hierarchy rules, and sibling name uniqueness. It is invoked
// on load and before every save.
func (t *StatusTree) ValidateConsistency() error {
	return validateLevel(t.Roots, StatusActive)
}

func collectStatus(tasks []*Task, status Status, out *[]*Task) {
	for _, task := range tasks {
		if task.Status == status {
			*out = append(*out, task)
		}
		collectStatus(task.Children, status, out)
	}
}

// validateLevel checks one sibling group against its parent status and
// recurses. The virtual root is treated as active so top-level tasks may
// take any state.
func validateLevel(tasks []*Task, parentStatus Status) error {
	seen := make(map[string]struct{}, len(tasks))
	activeCount := 0
	for _, task := range tasks {
		if task.Status == StatusActive {
			activeCount++
			if activeCount > 1 {
				return &ValidationError{Msg: fmt.Sprintf("Ambiguous Focus: multiple active siblings, second is '%s'", task.Name)}
			}
		}
		if !task.Status.Valid() {
			return &ValidationError{Msg: fmt.Sprintf("invalid status '%s' on task '%s'", task.Status, task.Name)}
		}
		if _, dup := seen[task.Name]; dup {
			return &ValidationError{Msg: fmt.Sprintf("duplicate task name: '%s'", task.Name)}
		}
		seen[task.Name] = struct{}{}

		if parentStatus == StatusDone && !task.Status.Terminal() {
			return &ValidationError{Msg: fmt.Sprintf("logic conflict: parent is done but child '%s' is %s", task.Name, task.Status)}
		}
		if parentStatus == StatusPending && task.Status == StatusActive {
			return &ValidationError{Msg: fmt.Sprintf("logic conflict: child '%s' is active but parent is pending", task.Name)}
		}

		if err := validateLevel(task.Children, task.Status); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports full structural equality of two trees, ignoring virtual IDs.
func (t *StatusTree) Equal(o *StatusTree) bool {
	if t.BOM != o.BOM || !t.Headers.Equal(o.Headers) {
		return false
	}
	if len(t.Roots) != len(o.Roots) {
		return false
	}
	for i := range t.Roots {
		if !t.Roots[i].Equal(o.Roots[i]) {
			return false
		}
	}
	return true
}

// Walk visits every task in document order.
func (t *StatusTree) Walk(fn func(*Task)) {
	var rec func([]*Task)
	rec = func(tasks []*Task) {
		for _, task := range tasks {
			fn(task)
			rec(task.Children)
		}
	}
	rec(t.Roots)
}
