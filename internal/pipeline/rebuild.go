package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/bloxciting/internal/entry"
	"github.com/conneroisu/bloxciting/internal/errors"
	"github.com/conneroisu/bloxciting/internal/validation"
)

// RebuildReport summarizes a one-shot compilation of the whole tree.
type RebuildReport struct {
	Compiled []*entry.Entry
	Failed   map[string]error
	Duration time.Duration
}

// Rebuild compiles every document under the root once, without a watcher or
// a cache. Failures, unreadable directories included, are collected per
// path; the returned error is only set when the root itself could not be
// read.
func (p *Pipeline) Rebuild(ctx context.Context) (*RebuildReport, error) {
	start := time.Now()

	paths, failed, err := p.documents()
	if err != nil {
		return nil, err
	}

	report := &RebuildReport{Failed: failed}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, logical := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			e, err := p.Process(gctx, logical, nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[logical] = err
				return nil
			}
			report.Compiled = append(report.Compiled, e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Compiled, func(i, j int) bool {
		return report.Compiled[i].LogicalPath < report.Compiled[j].LogicalPath
	})
	report.Duration = time.Since(start)
	return report, nil
}

// documents lists the logical paths of every document under the root,
// following symbolic links and skipping hidden entries and the output
// directory. Entries below the root that cannot be read are returned in
// failed; only an unreadable root is an error.
func (p *Pipeline) documents() (paths []string, failed map[string]error, err error) {
	root, err := filepath.Abs(p.opts.Root)
	if err != nil {
		return nil, nil, err
	}
	out, err := filepath.Abs(p.opts.OutputDir)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.ReadDir(root); err != nil {
		return nil, nil, err
	}

	failed = make(map[string]error)
	visited := make(map[string]bool)

	var walk func(dir string)
	walk = func(dir string) {
		logical, _ := entry.LogicalPath(root, dir)
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			failed[logical] = errors.NewIOError(errors.ErrCodeReadFailed, "resolving directory failed", err).WithPath(logical)
			return
		}
		if visited[real] {
			return
		}
		visited[real] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			failed[logical] = errors.NewIOError(errors.ErrCodeReadFailed, "reading directory failed", err).WithPath(logical)
			return
		}
		for _, de := range entries {
			path := filepath.Join(dir, de.Name())
			if validation.Within(out, path) {
				continue
			}
			logical, err := entry.LogicalPath(root, path)
			if err != nil || entry.IsHidden(logical) {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				failed[logical] = errors.NewIOError(errors.ErrCodeStatFailed, "stat failed", err).WithPath(logical)
				continue
			}
			if info.IsDir() {
				walk(path)
				continue
			}
			if info.Mode().IsRegular() && entry.IsDocument(path, p.opts.Extension) {
				paths = append(paths, logical)
			}
		}
	}

	walk(root)
	return paths, failed, nil
}
