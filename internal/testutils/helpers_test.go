package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateContentTree(t *testing.T) {
	root, out := CreateContentTree(t)

	assert.DirExists(t, root)
	assert.NoDirExists(t, out)
	assert.Equal(t, filepath.Dir(root), filepath.Dir(out))
}

func TestWriteDocument(t *testing.T) {
	root, _ := CreateContentTree(t)

	path := WriteDocument(t, root, "go/deep/a.md", "# A")
	assert.Equal(t, filepath.Join(root, "go", "deep", "a.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# A", string(data))
}

func TestCreateTestConfig(t *testing.T) {
	cfg := CreateTestConfig(t)

	assert.DirExists(t, cfg.Content.Root)
	assert.Equal(t, TestStabilityWindow, cfg.Content.StabilityWindow)
	assert.Equal(t, ".md", cfg.Content.Extension)
	assert.Equal(t, "me", cfg.Author.Nickname)
}

func TestMD5Hex(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5Hex(""))
	assert.Len(t, MD5Hex("X"), 32)
}
