package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/bloxciting/internal/config"
	"github.com/conneroisu/bloxciting/internal/logging"
	"github.com/conneroisu/bloxciting/internal/testutils"
	ws "github.com/conneroisu/bloxciting/internal/websocket"
)

// startTestServer starts the services and serves the handler over httptest.
func startTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(cfg, logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.StartServices(ctx))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = s.Shutdown(shutdownCtx)
		cancel()
	})
	return s, ts
}

func get(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// waitForETag polls until the document answers 200 with the wanted etag.
func waitForETag(t *testing.T, url, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp := get(t, url, nil)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK && resp.Header.Get("ETag") == want
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_DocumentLifecycle(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	testutils.WriteDocument(t, cfg.Content.Root, "a.md", "X")
	_, ts := startTestServer(t, cfg)
	url := ts.URL + "/api/v1/blogs/a"

	// The initial scan compiles the existing document.
	waitForETag(t, url, testutils.MD5Hex("X"))
	resp := get(t, url, nil)
	assert.Contains(t, body(t, resp), "<p>X</p>")
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	resp = get(t, url, map[string]string{"If-None-Match": testutils.MD5Hex("X")})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	// A change replaces the entry.
	testutils.WriteDocument(t, cfg.Content.Root, "a.md", "Y")
	waitForETag(t, url, testutils.MD5Hex("Y"))
	resp = get(t, url, nil)
	assert.Contains(t, body(t, resp), "<p>Y</p>")

	resp = get(t, url, map[string]string{"If-None-Match": testutils.MD5Hex("X")})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "old etag no longer matches")

	resp = get(t, url, map[string]string{"If-None-Match": testutils.MD5Hex("Y")})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	// Removal makes the document disappear from lookups and listings.
	require.NoError(t, os.Remove(filepath.Join(cfg.Content.Root, "a.md")))
	require.Eventually(t, func() bool {
		resp := get(t, url, nil)
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 5*time.Second, 20*time.Millisecond)

	resp = get(t, ts.URL+"/api/v1/blogs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Blogs      []map[string]interface{} `json:"blogs"`
		Categories []string                 `json:"categories"`
	}
	require.NoError(t, json.Unmarshal([]byte(body(t, resp)), &listing))
	assert.Empty(t, listing.Blogs)

	_, err := os.Stat(filepath.Join(cfg.Content.OutputDir, "a.html"))
	assert.True(t, os.IsNotExist(err), "artifact removed with its entry")
}

func TestServer_ListingAndPages(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	testutils.WriteDocument(t, cfg.Content.Root, "index.md", "# Home")
	testutils.WriteDocument(t, cfg.Content.Root, "go/intro.md", "# Intro\n\nFirst steps.\n")
	testutils.WriteDocument(t, cfg.Content.Root, "go/deep/more.md", "more")
	s, ts := startTestServer(t, cfg)

	require.Eventually(t, func() bool { return s.Cache().Len() == 3 }, 5*time.Second, 20*time.Millisecond)

	resp := get(t, ts.URL+"/api/v1/blogs/go", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Blogs []struct {
			Path    string `json:"path"`
			Title   string `json:"title"`
			Heading string `json:"heading"`
		} `json:"blogs"`
		Categories []string `json:"categories"`
	}
	require.NoError(t, json.Unmarshal([]byte(body(t, resp)), &listing))
	require.Len(t, listing.Blogs, 1)
	assert.Equal(t, "go/intro.md", listing.Blogs[0].Path)
	assert.Equal(t, "intro", listing.Blogs[0].Title)
	assert.Equal(t, "Intro", listing.Blogs[0].Heading)
	assert.Equal(t, []string{"deep"}, listing.Categories)

	resp = get(t, ts.URL+"/pages/go/intro", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "<title>Intro</title>")
	assert.Contains(t, page, `content="First steps."`)
}

func TestServer_ExtensionIsCaseSensitive(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	testutils.WriteDocument(t, cfg.Content.Root, "Note.MD", "shouted")
	testutils.WriteDocument(t, cfg.Content.Root, "note.md", "quiet")
	s, ts := startTestServer(t, cfg)

	waitForETag(t, ts.URL+"/api/v1/blogs/note", testutils.MD5Hex("quiet"))
	assert.Equal(t, []string{"note.md"}, s.Cache().Paths(""))

	for _, name := range []string{"Note", "Note.MD"} {
		resp := get(t, ts.URL+"/api/v1/blogs/"+name, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, name)
	}

	resp := get(t, ts.URL+"/api/v1/blogs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := body(t, resp)
	assert.Contains(t, listing, `"path":"note.md"`)
	assert.NotContains(t, listing, "Note.MD")
}

func TestServer_WebsocketReceivesUpdates(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	s, ts := startTestServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	testutils.WriteDocument(t, cfg.Content.Root, "news.md", "hello")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg ws.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, ws.MessageEntryUpdated, msg.Type)
	assert.Equal(t, "news.md", msg.Path)
	assert.Equal(t, testutils.MD5Hex("hello"), msg.Hash)

	require.NoError(t, os.Remove(filepath.Join(cfg.Content.Root, "news.md")))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, ws.MessageEntryRemoved, msg.Type)
	assert.Equal(t, "news.md", msg.Path)
}

func TestServer_HealthAndStatus(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	testutils.WriteDocument(t, cfg.Content.Root, "a.md", "a")
	s, ts := startTestServer(t, cfg)
	require.Eventually(t, func() bool { return s.Cache().Len() == 1 }, 5*time.Second, 20*time.Millisecond)

	resp := get(t, ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body(t, resp)), &health))
	assert.Equal(t, "healthy", health["status"])

	resp = get(t, ts.URL+"/api/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Cache struct {
			Stats struct {
				Entries int `json:"entries"`
			} `json:"stats"`
		} `json:"cache"`
		Pipeline struct {
			Metrics struct {
				SuccessfulCompilations int64 `json:"successful_compilations"`
			} `json:"metrics"`
		} `json:"pipeline"`
	}
	require.NoError(t, json.Unmarshal([]byte(body(t, resp)), &status))
	assert.Equal(t, 1, status.Cache.Stats.Entries)
	assert.Equal(t, int64(1), status.Pipeline.Metrics.SuccessfulCompilations)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/health", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_RejectsMissingRoot(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	cfg.Content.Root = filepath.Join(t.TempDir(), "missing")
	_, err := New(cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := testutils.CreateTestConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	s, err := New(cfg, logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	resp := get(t, "http://"+s.Addr().String()+"/health", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	assert.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
	assert.Error(t, s.StartServices(context.Background()), "a server starts once")
}
