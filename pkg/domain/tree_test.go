package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) *StatusTree {
	t.Helper()
	tree := NewStatusTree()
	require.NoError(t, tree.AddTask("root", "Design", StatusDone, -1))
	require.NoError(t, tree.AddTask("root", "Implement", StatusActive, -1))
	require.NoError(t, tree.AddTask("root", "Ship", StatusPending, -1))
	tree.Reindex()
	require.NoError(t, tree.AddTask("2", "Write code", StatusActive, -1))
	tree.Reindex()
	require.NoError(t, tree.AddTask("2", "Write tests", StatusPending, -1))
	tree.Reindex()
	return tree
}

func TestFind_ByVirtualID(t *testing.T) {
	tree := buildTree(t)

	task, err := tree.Find("2.1")
	require.NoError(t, err)
	assert.Equal(t, "Write code", task.Name)
	assert.Equal(t, StatusActive, task.Status)
}

func TestFind_UnknownID(t *testing.T) {
	tree := buildTree(t)

	_, err := tree.Find("9.9")
	var idErr *IDError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, "9.9", idErr.ID)
}

func TestFind_StaleAfterMutation(t *testing.T) {
	tree := buildTree(t)
	require.NoError(t, tree.RemoveTask("3"))

	_, err := tree.Find("1")
	assert.ErrorIs(t, err, ErrStaleID)
}

func TestAddTask_DuplicateSiblingName(t *testing.T) {
	tree := buildTree(t)

	err := tree.AddTask("root", "Ship", StatusPending, -1)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Error(), "duplicate")
}

func TestAddTask_InsertAtIndex(t *testing.T) {
	tree := buildTree(t)
	require.NoError(t, tree.AddTask("root", "Plan", StatusDone, 0))
	tree.Reindex()

	task, err := tree.Find("1")
	require.NoError(t, err)
	assert.Equal(t, "Plan", task.Name)
}

func TestAddTask_PendingChildOfDoneParent(t *testing.T) {
	tree := buildTree(t)

	err := tree.AddTask("1", "Late addition", StatusPending, -1)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestAddTask_ActiveUnderPendingParent(t *testing.T) {
	tree := buildTree(t)

	err := tree.AddTask("3", "Jump the queue", StatusActive, -1)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, err.Error(), "not active")
}

func TestUpdateTask_AnchorMismatch(t *testing.T) {
	tree := buildTree(t)

	anchor := "Wrong name"
	err := tree.UpdateTask("2", TaskUpdate{ContextAnchor: &anchor})
	var anchorErr *AnchorError
	require.ErrorAs(t, err, &anchorErr)
	assert.Equal(t, "Wrong name", anchorErr.Want)
	assert.Equal(t, "Implement", anchorErr.Got)
}

func TestUpdateTask_ActivateWhileBranchActive(t *testing.T) {
	tree := buildTree(t)

	active := StatusActive
	err := tree.UpdateTask("3", TaskUpdate{Status: &active})
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, err.Error(), "already active")
}

func TestUpdateTask_ActivateDeeperInFocusChain(t *testing.T) {
	tree := buildTree(t)

	// 2.1 is the focused leaf; its sibling cannot also go active...
	active := StatusActive
	err := tree.UpdateTask("2.2", TaskUpdate{Status: &active})
	require.Error(t, err)

	// ...but once 2.1 is done, 2.2 may take the focus.
	done := StatusDone
	require.NoError(t, tree.UpdateTask("2.1", TaskUpdate{Status: &done}))
	require.NoError(t, tree.UpdateTask("2.2", TaskUpdate{Status: &active}))
}

func TestUpdateTask_DoneWithOpenDescendant(t *testing.T) {
	tree := buildTree(t)

	done := StatusDone
	err := tree.UpdateTask("2", TaskUpdate{Status: &done})
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestPropagation_CompletionBubble(t *testing.T) {
	tree := buildTree(t)

	done := StatusDone
	require.NoError(t, tree.UpdateTask("2.1", TaskUpdate{Status: &done}))

	parent, err := tree.Find("2")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, parent.Status, "one sibling still pending")

	require.NoError(t, tree.UpdateTask("2.2", TaskUpdate{Status: &done}))
	assert.Equal(t, StatusDone, parent.Status, "last child done completes the parent")
}

func TestPropagation_SkippedSiblingsDoNotBlockCompletion(t *testing.T) {
	tree := buildTree(t)

	skipped := StatusSkipped
	require.NoError(t, tree.UpdateTask("2.2", TaskUpdate{Status: &skipped}))

	done := StatusDone
	require.NoError(t, tree.UpdateTask("2.1", TaskUpdate{Status: &done}))

	parent, err := tree.Find("2")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, parent.Status)
}

func TestPropagation_ActivationBubble(t *testing.T) {
	tree := NewStatusTree()
	tree.Roots = []*Task{
		{Name: "Epic", Status: StatusPending, Children: []*Task{
			{Name: "Story A", Status: StatusPending},
			{Name: "Story B", Status: StatusPending},
		}},
	}
	tree.Reindex()

	// Marking a leaf done while siblings remain pending promotes the
	// pending parent to active: work is in progress.
	done := StatusDone
	require.NoError(t, tree.UpdateTask("1.1", TaskUpdate{Status: &done}))

	epic, err := tree.Find("1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, epic.Status)

	require.NoError(t, tree.UpdateTask("1.2", TaskUpdate{Status: &done}))
	assert.Equal(t, StatusDone, epic.Status)
}

func TestValidateConsistency_AmbiguousFocus(t *testing.T) {
	tree := NewStatusTree()
	tree.Roots = []*Task{
		{Name: "A", Status: StatusActive},
		{Name: "B", Status: StatusActive},
	}
	tree.Reindex()

	err := tree.ValidateConsistency()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ambiguous Focus")
}

func TestValidateConsistency_DoneParentOpenChild(t *testing.T) {
	tree := NewStatusTree()
	tree.Roots = []*Task{
		{Name: "A", Status: StatusDone, Children: []*Task{
			{Name: "A1", Status: StatusPending},
		}},
	}
	tree.Reindex()

	err := tree.ValidateConsistency()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logic conflict")
}

func TestSmartResume_FirstPendingLeaf(t *testing.T) {
	tree := NewStatusTree()
	tree.Roots = []*Task{
		{Name: "A", Status: StatusDone},
		{Name: "B", Status: StatusPending, Children: []*Task{
			{Name: "B1", Status: StatusDone},
			{Name: "B2", Status: StatusPending},
		}},
		{Name: "C", Status: StatusPending},
	}
	tree.Reindex()

	leaf := tree.FirstPendingLeaf()
	require.NotNil(t, leaf)
	assert.Equal(t, "B2", leaf.Name)
}

func TestDeepestActive(t *testing.T) {
	tree := buildTree(t)

	active := tree.DeepestActive()
	require.NotNil(t, active)
	assert.Equal(t, "Write code", active.Name)
}

func TestRemoveTask(t *testing.T) {
	tree := buildTree(t)
	require.NoError(t, tree.RemoveTask("2.1"))
	tree.Reindex()

	task, err := tree.Find("2.1")
	require.NoError(t, err)
	assert.Equal(t, "Write tests", task.Name, "sibling shifts into the removed slot")
}

func TestHeaders_OrderAndLastWriteWins(t *testing.T) {
	h := NewHeaders()
	h.Set("Project", "weft")
	h.Set("Owner", "core")
	h.Set("Project", "weft-v2")

	assert.Equal(t, []string{"Project", "Owner"}, h.Keys())
	v, ok := h.Get("Project")
	require.True(t, ok)
	assert.Equal(t, "weft-v2", v)
}
