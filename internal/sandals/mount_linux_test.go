package sandals

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChrootRelativeStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))

	got, err := chrootRelative(root, "/a/b")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "a", "b"), got)
}

func TestChrootRelativeRejectsEscape(t *testing.T) {
	root := t.TempDir()

	got, err := chrootRelative(root, "../../../../etc/passwd")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "etc", "passwd"), got)
}
