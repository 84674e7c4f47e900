package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/bloxciting/internal/config"
	"github.com/conneroisu/bloxciting/internal/testutils"
)

// resetViper isolates a test from global configuration state.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	c := &cobra.Command{}
	c.SetOut(buf)
	return c, buf
}

func TestConfigShow(t *testing.T) {
	resetViper(t)
	viper.Set("server.port", 9090)
	viper.Set("content.root", "posts")

	t.Run("yaml", func(t *testing.T) {
		configFormat = "yaml"
		c, buf := newTestCommand()
		require.NoError(t, runConfigShow(c, nil))

		var cfg config.Config
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &cfg))
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "posts", cfg.Content.Root)
		assert.Equal(t, ".md", cfg.Content.Extension)
		assert.Contains(t, buf.String(), "stability_window: 2s")
	})

	t.Run("json", func(t *testing.T) {
		configFormat = "json"
		c, buf := newTestCommand()
		require.NoError(t, runConfigShow(c, nil))

		var out map[string]map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, float64(9090), out["server"]["port"])
		assert.Equal(t, "md5", out["content"]["hash"])
	})

	t.Run("unknown format", func(t *testing.T) {
		configFormat = "toml"
		c, _ := newTestCommand()
		assert.Error(t, runConfigShow(c, nil))
	})
}

func TestConfigValidate(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yml")
	require.NoError(t, os.WriteFile(good, []byte("server:\n  port: 8080\ncontent:\n  root: ./posts\n"), 0o644))
	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("content:\n  hash: crc32\n"), 0o644))

	configFile = good
	c, buf := newTestCommand()
	require.NoError(t, runConfigValidate(c, nil))
	assert.Contains(t, buf.String(), "good.yml is valid")

	configFile = bad
	c, _ = newTestCommand()
	assert.Error(t, runConfigValidate(c, nil))

	configFile = filepath.Join(dir, "missing.yml")
	c, _ = newTestCommand()
	assert.Error(t, runConfigValidate(c, nil))
	configFile = ""
}

func TestBuildCommand(t *testing.T) {
	resetViper(t)
	root, out := testutils.CreateContentTree(t)
	testutils.WriteDocument(t, root, "a.md", "# A\n")
	testutils.WriteDocument(t, root, "go/b.md", "b")

	viper.Set("content.root", root)
	viper.Set("content.output_dir", out)
	viper.Set("log.level", "error")

	stale := filepath.Join(out, "stale.html")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	buildClean = true
	defer func() { buildClean = false }()

	c, buf := newTestCommand()
	require.NoError(t, runBuild(c, nil))

	assert.FileExists(t, filepath.Join(out, "a.html"))
	assert.FileExists(t, filepath.Join(out, "go", "b.html"))
	assert.NoFileExists(t, stale)
	assert.Contains(t, buf.String(), "Compiled 2 documents")
	assert.Contains(t, buf.String(), "go/b.md")
}

func TestVersionCommand(t *testing.T) {
	defer func() { versionFormat, versionShort, versionDetailed = "text", false, false }()

	versionFormat = "json"
	c, buf := newTestCommand()
	require.NoError(t, runVersionCommand(c, nil))
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	versionFormat = "text"
	versionShort = true
	c, buf = newTestCommand()
	require.NoError(t, runVersionCommand(c, nil))
	assert.NotEmpty(t, buf.String())

	versionFormat = "xml"
	c, _ = newTestCommand()
	assert.Error(t, runVersionCommand(c, nil))
}

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "build", "config", "version"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("root"))
}

func TestBindFlags(t *testing.T) {
	resetViper(t)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.IntP("port", "p", 0, "")
	flags.Duration("stability-window", 0, "")
	bindFlags(flags, map[string]string{
		"port":             "server.port",
		"stability-window": "content.stability_window",
		"missing":          "server.host",
	})

	require.NoError(t, flags.Parse([]string{"-p", "9999", "--stability-window", "750ms"}))

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Content.StabilityWindow)
	assert.Equal(t, "localhost", cfg.Server.Host)
}
