package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/bloxciting/internal/cache"
	"github.com/conneroisu/bloxciting/internal/entry"
	"github.com/conneroisu/bloxciting/internal/errors"
	"github.com/conneroisu/bloxciting/internal/logging"
	"github.com/conneroisu/bloxciting/internal/watcher"
)

// UpdateType describes what a finished job did to the cache.
type UpdateType int

const (
	UpdateTypeUpserted UpdateType = iota
	UpdateTypeRemoved
	UpdateTypeFailed
)

// String returns the string representation of the UpdateType
func (u UpdateType) String() string {
	switch u {
	case UpdateTypeUpserted:
		return "upserted"
	case UpdateTypeRemoved:
		return "removed"
	case UpdateTypeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is reported after every finished job.
type Update struct {
	Type        UpdateType
	LogicalPath string
	Entry       *entry.Entry
	Err         error
	Timestamp   time.Time
}

// PublishFunc receives updates. It is called from job goroutines and must
// not block for long.
type PublishFunc func(Update)

// Scheduler applies watcher events to the cache. Jobs for one logical path
// run one at a time in arrival order: while a job runs, newer events for
// the same path wait in a single pending slot where the latest replaces any
// earlier one. Jobs for different paths run concurrently.
type Scheduler struct {
	pipeline  *Pipeline
	cache     *cache.Cache
	logger    logging.Logger
	errs      *errors.ErrorHandler
	onPublish PublishFunc

	mutex sync.Mutex
	slots map[string]*slot
	wg    sync.WaitGroup
}

type slot struct {
	pending *watcher.Event
}

// NewScheduler creates a scheduler publishing into c. onPublish may be nil.
func NewScheduler(p *Pipeline, c *cache.Cache, logger logging.Logger, onPublish PublishFunc) *Scheduler {
	logger = logger.WithComponent("scheduler")
	return &Scheduler{
		pipeline:  p,
		cache:     c,
		logger:    logger,
		errs:      errors.NewErrorHandler(logger),
		onPublish: onPublish,
		slots:     make(map[string]*slot),
	}
}

// Submit schedules ev. It never blocks on compilation.
func (s *Scheduler) Submit(ev watcher.Event) {
	key := entry.Normalize(ev.LogicalPath)
	ev.LogicalPath = key

	// A removed directory takes every document below it along.
	if ev.IsDir {
		if ev.Type != watcher.EventTypeRemoved {
			return
		}
		prefix := key + "/"
		if key == "" {
			prefix = ""
		}
		for _, p := range s.below(prefix) {
			s.Submit(watcher.Event{Type: watcher.EventTypeRemoved, LogicalPath: p})
		}
		return
	}

	s.mutex.Lock()
	if sl, running := s.slots[key]; running {
		if sl.pending != nil {
			s.pipeline.metrics.RecordCoalesced()
		}
		sl.pending = &ev
		s.mutex.Unlock()
		return
	}
	s.slots[key] = &slot{}
	s.wg.Add(1)
	s.mutex.Unlock()

	go s.run(key, ev)
}

// below lists the tracked paths under prefix. Paths with a job in flight
// count as tracked: their job may publish after the cache was consulted, so
// they get a pending removal that runs once it finishes.
func (s *Scheduler) below(prefix string) []string {
	paths := s.cache.Paths(prefix)
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		seen[p] = struct{}{}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for key := range s.slots {
		if _, ok := seen[key]; ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		seen[key] = struct{}{}
		paths = append(paths, key)
	}
	return paths
}

// Wait blocks until every submitted job, including pending ones, is done.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// InFlight returns the number of paths with a running job.
func (s *Scheduler) InFlight() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.slots)
}

func (s *Scheduler) run(key string, ev watcher.Event) {
	defer s.wg.Done()

	for {
		s.handle(context.Background(), key, ev)

		s.mutex.Lock()
		sl := s.slots[key]
		if sl.pending == nil {
			delete(s.slots, key)
			s.mutex.Unlock()
			return
		}
		ev = *sl.pending
		sl.pending = nil
		s.mutex.Unlock()
	}
}

func (s *Scheduler) handle(ctx context.Context, key string, ev watcher.Event) {
	switch ev.Type {
	case watcher.EventTypeAdded, watcher.EventTypeChanged:
		prev := s.cache.Peek(key)
		e, err := s.pipeline.Process(ctx, key, prev)
		if err != nil {
			s.errs.Handle(ctx, err)
			s.publish(Update{Type: UpdateTypeFailed, LogicalPath: key, Err: err})
			return
		}
		s.cache.Upsert(key, e)

		if prev == nil {
			s.logger.Info(ctx, "Entry created", "path", key, "size", e.Source.Size, "hash", e.Hash)
		} else {
			s.logger.Info(ctx, "Entry updated", "path", key,
				"old_size", prev.Source.Size, "size", e.Source.Size,
				"old_hash", prev.Hash, "hash", e.Hash)
		}
		s.publish(Update{Type: UpdateTypeUpserted, LogicalPath: key, Entry: e})

	case watcher.EventTypeRemoved:
		removed := s.cache.Remove(key)
		if err := s.pipeline.Remove(key); err != nil {
			s.errs.Handle(ctx, err)
		}
		if removed == nil {
			return
		}
		s.logger.Info(ctx, "Entry removed", "path", key, "size", removed.Source.Size, "hash", removed.Hash)
		s.publish(Update{Type: UpdateTypeRemoved, LogicalPath: key, Entry: removed})
	}
}

func (s *Scheduler) publish(u Update) {
	if s.onPublish == nil {
		return
	}
	u.Timestamp = time.Now()
	s.onPublish(u)
}
