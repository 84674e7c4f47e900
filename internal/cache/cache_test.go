package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/conneroisu/bloxciting/internal/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(logical, hash string) *entry.Entry {
	return &entry.Entry{
		LogicalPath: logical,
		Title:       entry.TitleFromPath(logical),
		Hash:        hash,
	}
}

func TestCache_UpsertGetRemove(t *testing.T) {
	c := New()

	_, ok := c.Get("a.md")
	assert.False(t, ok)

	first := newEntry("a.md", "h1")
	c.Upsert("a.md", first)
	got, ok := c.Get("a.md")
	require.True(t, ok)
	assert.Same(t, first, got)

	second := newEntry("a.md", "h2")
	c.Upsert("a.md", second)
	got, _ = c.Get("a.md")
	assert.Equal(t, "h2", got.Hash)
	assert.Equal(t, "h1", first.Hash, "replaced entries are not mutated")
	assert.Equal(t, 1, c.Len())

	removed := c.Remove("a.md")
	assert.Same(t, second, removed)
	assert.Nil(t, c.Remove("a.md"))

	_, ok = c.Get("a.md")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(2), stats.Upserts)
	assert.Equal(t, int64(1), stats.Removals)
	assert.InDelta(t, 0.5, c.HitRate(), 0.0001)
}

func TestCache_UpsertNilIgnored(t *testing.T) {
	c := New()
	c.Upsert("a.md", nil)
	assert.Equal(t, 0, c.Len())
}

func TestCache_KeysAreNormalized(t *testing.T) {
	c := New()
	c.Upsert("/notes/cafe\u0301.md", newEntry("notes/caf\u00e9.md", "h"))

	_, ok := c.Get("notes/caf\u00e9.md")
	assert.True(t, ok)
}

func TestCache_ListUnder(t *testing.T) {
	c := New()
	for _, p := range []string{
		"index.md",
		"root.md",
		"notes/index.md",
		"notes/b.md",
		"notes/a.md",
		"notes/go/deep.md",
	} {
		c.Upsert(p, newEntry(p, "h"))
	}

	tests := []struct {
		dir      string
		expected []string
	}{
		{"", []string{"root.md"}},
		{"notes", []string{"notes/a.md", "notes/b.md"}},
		{"/notes/", []string{"notes/a.md", "notes/b.md"}},
		{"notes/go", []string{"notes/go/deep.md"}},
		{"missing", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			var paths []string
			for _, e := range c.ListUnder(tt.dir, "index.md") {
				paths = append(paths, e.LogicalPath)
			}
			if len(tt.expected) == 0 {
				assert.Empty(t, paths)
				return
			}
			assert.Equal(t, tt.expected, paths)
		})
	}
}

func TestCache_SnapshotAndPaths(t *testing.T) {
	c := New()
	c.Upsert("b.md", newEntry("b.md", "h"))
	c.Upsert("a/x.md", newEntry("a/x.md", "h"))
	c.Upsert("a/y.md", newEntry("a/y.md", "h"))

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a/x.md", snap[0].LogicalPath)
	assert.Equal(t, "b.md", snap[2].LogicalPath)

	assert.Equal(t, []string{"a/x.md", "a/y.md"}, c.Paths("a/"))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := fmt.Sprintf("dir/%d.md", i%5)
			for j := 0; j < 100; j++ {
				c.Upsert(p, newEntry(p, fmt.Sprintf("%d-%d", i, j)))
				c.Get(p)
				c.ListUnder("dir", "index.md")
				if j%10 == 0 {
					c.Remove(p)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 5)
}
