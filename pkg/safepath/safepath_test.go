package safepath

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Simple(t *testing.T) {
	root := t.TempDir()
	got, err := Resolve(root, "sub/file.md")
	require.NoError(t, err)

	real, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, filepath.Join(real, "sub", "file.md"), got)
}

func TestResolve_RejectsTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := Resolve(root, "../escape")
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Contains(t, secErr.Reason, "traversal")
}

func TestResolve_RejectsEmbeddedTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := Resolve(root, "a/../../b")
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestResolve_RejectsAbsolute(t *testing.T) {
	root := t.TempDir()
	_, err := Resolve(root, "/etc/passwd")
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestResolve_RejectsNullByte(t *testing.T) {
	root := t.TempDir()
	_, err := Resolve(root, "a\x00b")
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Contains(t, secErr.Reason, "null byte")
}

func TestResolve_RejectsTooLong(t *testing.T) {
	root := t.TempDir()
	long := make([]byte, MaxPathLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Resolve(root, string(long))
	assert.ErrorIs(t, err, ErrPathTooLong)
}

func TestResolve_RejectsReservedDeviceNames(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"CON", "sub/NUL.txt", "COM1", "lpt9.log"} {
		_, err := Resolve(root, p)
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr, p)
	}
}

func TestResolve_RootMissing(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope"), "x")
	assert.ErrorIs(t, err, ErrRootNotFound)
}

func TestResolve_RootIsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Resolve(file, "x")
	assert.ErrorIs(t, err, ErrInvalidRoot)
}

func TestResolve_SymlinkEscapeDetected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test on unix only")
	}
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := Resolve(root, "link/file")
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Contains(t, secErr.Reason, "outside root")
}

func TestResolve_SymlinkLoopRejected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test on unix only")
	}
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	require.NoError(t, os.Symlink(a, b))
	require.NoError(t, os.Symlink(b, a))

	_, err := Resolve(root, "a/deeper")
	require.Error(t, err)
}

func TestResolve_InsideSymlinkStaysInside(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test on unix only")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	got, err := Resolve(root, "alias/file.md")
	require.NoError(t, err)
	real, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, filepath.Join(real, "real", "file.md"), got)
}
