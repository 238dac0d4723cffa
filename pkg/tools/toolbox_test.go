package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/pkg/loom"
)

func TestReadFile_Jailed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("data"), 0o644))

	tb := NewToolbox(RoleReader, root, loom.New(root))

	data, err := tb.ReadFile("f.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, err = tb.ReadFile("../outside")
	require.Error(t, err)
}

func TestLoom_RequiresEditorRole(t *testing.T) {
	root := t.TempDir()

	reader := NewToolbox(RoleReader, root, loom.New(root))
	_, err := reader.Loom()
	var roleErr *RoleError
	require.ErrorAs(t, err, &roleErr)

	editor := NewToolbox(RoleEditor, root, loom.New(root))
	l, err := editor.Loom()
	require.NoError(t, err)
	assert.NotNil(t, l)
}
