// Package testutils holds fixtures shared by package tests: content trees,
// documents and ready-to-serve configurations.
package testutils

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/bloxciting/internal/config"
)

// TestStabilityWindow is short enough to keep watcher driven tests fast.
const TestStabilityWindow = 50 * time.Millisecond

// CreateContentTree creates an empty content root and returns it together
// with a sibling output directory that does not exist yet.
func CreateContentTree(t *testing.T) (root, out string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "blogs")
	out = filepath.Join(dir, "compiled")
	require.NoError(t, os.MkdirAll(root, 0o755))
	return root, out
}

// WriteDocument writes content at the slash separated logical path under
// root, creating parent directories, and returns the filesystem path.
func WriteDocument(t *testing.T, root, logical, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(logical))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// CreateTestConfig returns a validated-default configuration pointing at a
// fresh content tree.
func CreateTestConfig(t *testing.T) *config.Config {
	t.Helper()
	root, out := CreateContentTree(t)
	cfg := config.Default()
	cfg.Content.Root = root
	cfg.Content.OutputDir = out
	cfg.Content.StabilityWindow = TestStabilityWindow
	cfg.Author = config.AuthorConfig{Email: "me@example.com", Nickname: "me"}
	cfg.Log.Level = "error"
	return cfg
}

// MD5Hex is the default content hash of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
