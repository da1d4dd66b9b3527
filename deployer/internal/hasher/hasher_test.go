package hasher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministicAndFixedLength(t *testing.T) {
	a := HashString("_next/static/chunk.js")
	b := HashString("_next/static/chunk.js")
	assert.Equal(t, a, b)
	assert.Len(t, a, Size)
	assert.True(t, IsDigest(a))

	assert.NotEqual(t, a, HashString("_next/static/chunk2.js"))
	assert.Len(t, HashString(""), Size)
}

func TestHashReaderMatchesHash(t *testing.T) {
	got, err := HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, Hash([]byte("hello world")), got)
}

func TestIsDigestRejectsMalformed(t *testing.T) {
	assert.False(t, IsDigest("abc"))
	assert.False(t, IsDigest(strings.Repeat("z", Size)))
}

func TestHashTreeTracksPathsAndContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "index.mjs"), []byte("export {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte("{}"), 0o644))

	first, err := HashTree(root)
	require.NoError(t, err)
	again, err := HashTree(root)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, os.Rename(filepath.Join(root, "package.json"), filepath.Join(root, "pkg.json")))
	renamed, err := HashTree(root)
	require.NoError(t, err)
	assert.NotEqual(t, first, renamed)
}

func TestHashTreeFollowsLinkedDirectories(t *testing.T) {
	root := t.TempDir()
	dep := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.js"), []byte("main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dep, "index.js"), []byte("v1"), 0o644))
	require.NoError(t, os.Symlink(dep, filepath.Join(root, "dep")))

	first, err := HashTree(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dep, "index.js"), []byte("v2"), 0o644))
	changed, err := HashTree(root)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestHashTreeFailsOnDanglingLink(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "broken")))
	_, err := HashTree(root)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
