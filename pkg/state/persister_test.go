package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	p := NewPersister(t.TempDir(), nil)

	st := NewWorkflowState("1.2")
	st.Status = RunInProgress
	st.CurrentStepIndex = 2
	st.ContextCache["artifact_dir"] = "out"
	rec := st.Step("step-2")
	rec.Status = StepWaiting
	rec.Attempts = 1

	require.NoError(t, p.Save(st))

	loaded, err := p.Load("1.2")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, RunInProgress, loaded.Status)
	assert.Equal(t, 2, loaded.CurrentStepIndex)
	assert.Equal(t, "out", loaded.ContextCache["artifact_dir"])
	assert.Equal(t, StepWaiting, loaded.StepsHistory["step-2"].Status)
}

func TestLoad_MissingIsNil(t *testing.T) {
	p := NewPersister(t.TempDir(), nil)
	st, err := p.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestLoad_CorruptIsFreshStart(t *testing.T) {
	dir := t.TempDir()
	p := NewPersister(dir, nil)
	require.NoError(t, os.MkdirAll(p.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "1.json"), []byte("{trunc"), 0o644))

	st, err := p.Load("1")
	require.NoError(t, err)
	assert.Nil(t, st, "corrupt state reads as absent")

	_, statErr := os.Stat(filepath.Join(p.Dir(), "1.json"))
	assert.NoError(t, statErr, "corrupt bytes stay on disk for forensics")
}

func TestSave_PreviousFileSurvivesFailedSave(t *testing.T) {
	dir := t.TempDir()
	p := NewPersister(dir, nil)

	st := NewWorkflowState("1")
	require.NoError(t, p.Save(st))

	// Force the save to fail: un-writable state dir blocks the temp file,
	// the existing <id>.json is never touched.
	require.NoError(t, os.Chmod(p.Dir(), 0o555))
	t.Cleanup(func() { _ = os.Chmod(p.Dir(), 0o755) })

	st.CurrentStepIndex = 9
	err := p.Save(st)
	require.Error(t, err)

	require.NoError(t, os.Chmod(p.Dir(), 0o755))
	loaded, err := p.Load("1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 0, loaded.CurrentStepIndex, "previous snapshot intact")
}

func TestNestedSubFlowStateFiles(t *testing.T) {
	p := NewPersister(t.TempDir(), nil)

	parent := NewWorkflowState("3")
	child := NewWorkflowState("3#review")
	child.ParentRef = "3"
	require.NoError(t, p.Save(parent))
	require.NoError(t, p.Save(child))

	ids, err := p.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"3", "3#review"}, ids)

	loaded, err := p.Load("3#review")
	require.NoError(t, err)
	assert.Equal(t, "3", loaded.ParentRef)
}

func TestIntent_WriteReadClear(t *testing.T) {
	p := NewPersister(t.TempDir(), nil)

	require.NoError(t, p.WriteIntent(&IntentRecord{TaskID: "2", StepID: "s1", Attempt: 1}))

	rec, err := p.ReadIntent("2")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "s1", rec.StepID)
	assert.Equal(t, 1, rec.Attempt)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.NotEmpty(t, rec.StartedAt)

	ids, err := p.ListIntents()
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)

	require.NoError(t, p.ClearIntent("2"))
	rec, err = p.ReadIntent("2")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDelete(t *testing.T) {
	p := NewPersister(t.TempDir(), nil)
	require.NoError(t, p.Save(NewWorkflowState("1")))
	require.NoError(t, p.Delete("1"))
	require.NoError(t, p.Delete("1"), "idempotent")

	st, err := p.Load("1")
	require.NoError(t, err)
	assert.Nil(t, st)
}
