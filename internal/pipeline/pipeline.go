// Package pipeline compiles source documents into cache entries.
//
// Process reads a source file once, hashes and renders that single buffer
// concurrently, writes the rendered HTML to the shadow directory and returns
// a new immutable entry. It never touches the cache; the Scheduler publishes
// results and keeps work for one path strictly ordered.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/bloxciting/internal/entry"
	"github.com/conneroisu/bloxciting/internal/errors"
	"github.com/conneroisu/bloxciting/internal/logging"
	"github.com/conneroisu/bloxciting/internal/renderer"
)

// Renderer converts document text to an HTML fragment.
type Renderer interface {
	Render(text string, opts renderer.Options) (string, error)
}

// Options configure a Pipeline.
type Options struct {
	// Root is the watched source directory.
	Root string
	// OutputDir is the shadow directory receiving compiled artifacts.
	OutputDir string
	// Extension is the document extension, ".md" by default.
	Extension string
	Author    renderer.Author
	// Hash names the digest algorithm (md5, sha256, highwayhash).
	Hash string
}

// Pipeline compiles one document at a time per call; calls for different
// paths may run concurrently.
type Pipeline struct {
	opts     Options
	renderer Renderer
	hasher   Hasher
	logger   logging.Logger
	metrics  *Metrics
}

// New creates a pipeline. It fails only for an unknown hash algorithm.
func New(opts Options, r Renderer, logger logging.Logger) (*Pipeline, error) {
	hasher, err := NewHasher(opts.Hash)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeUnsupportedHash, err.Error())
	}
	if opts.Extension == "" {
		opts.Extension = ".md"
	}
	if opts.Root, err = filepath.Abs(opts.Root); err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeStatFailed, "resolving content root")
	}
	if opts.OutputDir, err = filepath.Abs(opts.OutputDir); err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeStatFailed, "resolving output directory")
	}

	return &Pipeline{
		opts:     opts,
		renderer: r,
		hasher:   hasher,
		logger:   logger.WithComponent("pipeline"),
		metrics:  NewMetrics(),
	}, nil
}

// Metrics returns the pipeline's metrics tracker.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Process compiles the document at logicalPath. prev is the currently
// published entry, if any; its title is carried forward. On failure nothing
// is returned and prev remains authoritative.
func (p *Pipeline) Process(ctx context.Context, logicalPath string, prev *entry.Entry) (*entry.Entry, error) {
	logicalPath = entry.Normalize(logicalPath)
	perf := logging.StartOperation(p.logger, "process")

	e, err := p.process(ctx, logicalPath, prev)
	var duration time.Duration
	if err != nil {
		duration = perf.EndWithError(ctx, err, "path", logicalPath)
	} else {
		duration = perf.End(ctx, "path", logicalPath, "hash", e.Hash)
	}
	p.metrics.RecordCompilation(duration, err)

	return e, err
}

func (p *Pipeline) process(ctx context.Context, logicalPath string, prev *entry.Entry) (*entry.Entry, error) {
	srcPath := entry.SourcePath(p.opts.Root, logicalPath)

	before, err := os.Stat(srcPath)
	if err != nil {
		return nil, errors.NewHashError(logicalPath, err)
	}
	if before.IsDir() {
		return nil, errors.NewHashError(logicalPath, os.ErrInvalid)
	}

	// One read feeds both the hash and the renderer, so the digest always
	// describes the bytes that were compiled.
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, errors.NewHashError(logicalPath, err)
	}

	var (
		digest string
		html   string
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := p.hasher.Sum(data)
		if err != nil {
			return errors.NewHashError(logicalPath, err)
		}
		digest = sum
		return nil
	})
	g.Go(func() error {
		out, err := p.renderer.Render(string(data), renderer.Options{
			Author:       p.opts.Author,
			LastModified: before.ModTime(),
		})
		if err != nil {
			return errors.NewCompileError(errors.ErrCodeRenderFailed, logicalPath, err)
		}
		html = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	artifactPath := entry.ArtifactPath(p.opts.OutputDir, logicalPath)
	if err := os.MkdirAll(filepath.Dir(artifactPath), 0o755); err != nil {
		return nil, errors.NewCompileError(errors.ErrCodeWriteFailed, logicalPath, err)
	}
	if err := atomic.WriteFile(artifactPath, strings.NewReader(html)); err != nil {
		return nil, errors.NewCompileError(errors.ErrCodeWriteFailed, logicalPath, err)
	}

	// Without both stats no entry can describe the artifact just written,
	// so it must not outlive the failure.
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		_ = os.Remove(artifactPath)
		return nil, errors.NewCompileError(errors.ErrCodeStatFailed, logicalPath, err)
	}
	artInfo, err := os.Stat(artifactPath)
	if err != nil {
		_ = os.Remove(artifactPath)
		return nil, errors.NewCompileError(errors.ErrCodeStatFailed, logicalPath, err)
	}

	summary := renderer.Summarize(html)
	e, ok := entry.NewBuilder(logicalPath, prev).
		SetHash(digest).
		SetSummary(summary.Heading, summary.Description).
		SetSource(srcPath, srcInfo).
		SetArtifact(artifactPath, artInfo).
		Build()
	if !ok {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "incomplete entry for "+logicalPath, nil)
	}

	return e, nil
}

// Remove deletes the shadow artifact of logicalPath. A missing artifact is
// not an error.
func (p *Pipeline) Remove(logicalPath string) error {
	artifactPath := entry.ArtifactPath(p.opts.OutputDir, entry.Normalize(logicalPath))
	if err := os.Remove(artifactPath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "removing compiled artifact failed", err).
			WithPath(logicalPath)
	}
	p.metrics.RecordRemoval()
	return nil
}
