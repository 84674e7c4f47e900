// Package server assembles the live content cache into a running service.
//
// A Server owns the watcher, the compilation pipeline and its scheduler, the
// content cache, the HTTP resolver and the websocket hub. A single dispatch
// goroutine forwards settled watcher events to the scheduler; finished jobs
// update the cache and are broadcast to connected browsers.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/bloxciting/internal/cache"
	"github.com/conneroisu/bloxciting/internal/config"
	"github.com/conneroisu/bloxciting/internal/errors"
	"github.com/conneroisu/bloxciting/internal/logging"
	"github.com/conneroisu/bloxciting/internal/pipeline"
	"github.com/conneroisu/bloxciting/internal/renderer"
	"github.com/conneroisu/bloxciting/internal/resolver"
	"github.com/conneroisu/bloxciting/internal/watcher"
	"github.com/conneroisu/bloxciting/internal/websocket"
)

// Server serves compiled documents with live updates.
type Server struct {
	config *config.Config
	logger logging.Logger

	cache       *cache.Cache
	pipeline    *pipeline.Pipeline
	scheduler   *pipeline.Scheduler
	watcher     *watcher.FileWatcher
	resolver    *resolver.Resolver
	hub         *websocket.Hub
	rateLimiter *RateLimiter
	handler     http.Handler

	httpServer  *http.Server
	listener    net.Listener
	serverMutex sync.RWMutex

	started      atomic.Bool
	dispatchDone chan struct{}
	hubCancel    context.CancelFunc
	startedAt    time.Time

	shutdownOnce sync.Once
	isShutdown   atomic.Bool
}

// New creates a server for cfg. The content root must exist; the output
// directory is created when missing.
func New(cfg *config.Config, logger logging.Logger) (*Server, error) {
	root, err := filepath.Abs(cfg.Content.Root)
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "resolving content root")
	}
	out, err := filepath.Abs(cfg.Content.OutputDir)
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "resolving output directory")
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeWriteFailed, "creating output directory")
	}

	p, err := pipeline.New(pipeline.Options{
		Root:      root,
		OutputDir: out,
		Extension: cfg.Content.Extension,
		Author: renderer.Author{
			Email:    cfg.Author.Email,
			Nickname: cfg.Author.Nickname,
		},
		Hash: cfg.Content.Hash,
	}, renderer.NewMarkdown(), logger)
	if err != nil {
		return nil, err
	}

	fw, err := watcher.New(watcher.Options{
		Root:            root,
		Extension:       cfg.Content.Extension,
		Ignore:          []string{out},
		StabilityWindow: cfg.Content.StabilityWindow,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.NoHiddenFilter)

	c := cache.New()
	s := &Server{
		config:       cfg,
		logger:       logger.WithComponent("server"),
		cache:        c,
		pipeline:     p,
		watcher:      fw,
		dispatchDone: make(chan struct{}),
		hub: websocket.NewHub(logger, websocket.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowAnyOrigin: isDevelopment(cfg),
		}),
		resolver: resolver.New(c, root, resolver.Options{
			Extension:     cfg.Content.Extension,
			IndexDocument: cfg.Content.IndexDocument,
			Ignore:        []string{out},
		}, logger),
	}
	s.scheduler = pipeline.NewScheduler(p, c, logger, s.publish)
	if cfg.Server.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(cfg.Server.RateLimit, s.logger)
	}
	s.handler = s.routes()

	return s, nil
}

func isDevelopment(cfg *config.Config) bool {
	return cfg.Server.Environment == "development"
}

// Handler returns the middleware-wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Cache returns the content cache.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// Scheduler returns the update scheduler.
func (s *Server) Scheduler() *pipeline.Scheduler {
	return s.scheduler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(resolver.DefaultPrefix, s.resolver)
	mux.Handle(resolver.DefaultPrefix+"/", s.resolver)
	mux.Handle(resolver.PagePrefix+"/", resolver.NewPageHandler(s.resolver))
	mux.Handle("/ws", s.hub)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)

	middlewares := []Middleware{
		RequestIDMiddleware,
		LoggingMiddleware(s.logger.WithComponent("http")),
		RecoveryMiddleware(s.logger),
		CORSMiddleware(s.config.Server.AllowedOrigins, isDevelopment(s.config)),
	}
	if s.rateLimiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.rateLimiter))
	}
	return chain(mux, middlewares...)
}

// StartServices starts the watcher, the dispatch loop and the websocket hub
// without listening for HTTP connections. The initial scan of the content
// tree arrives through the watcher as Added events.
func (s *Server) StartServices(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("server already started")
	}
	s.startedAt = time.Now()

	if err := s.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	go s.dispatch()

	hubCtx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel
	go s.hub.Run(hubCtx)

	return nil
}

// dispatch forwards watcher events to the scheduler until the watcher stops.
func (s *Server) dispatch() {
	defer close(s.dispatchDone)
	for ev := range s.watcher.Events() {
		s.scheduler.Submit(ev)
	}
}

// Start runs the services and serves HTTP until ctx is cancelled or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.StartServices(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.serverMutex.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Shutdown did not complete cleanly")
		}
	}()

	s.logger.Info(ctx, "Serving content", "addr", ln.Addr().String(), "root", s.watcher.Root())
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// publish broadcasts a finished job to websocket clients.
func (s *Server) publish(u pipeline.Update) {
	msg := websocket.Message{Path: u.LogicalPath, Timestamp: u.Timestamp}
	switch u.Type {
	case pipeline.UpdateTypeUpserted:
		msg.Type = websocket.MessageEntryUpdated
		msg.Hash = u.Entry.Hash
	case pipeline.UpdateTypeRemoved:
		msg.Type = websocket.MessageEntryRemoved
	case pipeline.UpdateTypeFailed:
		msg.Type = websocket.MessageCompileError
		if u.Err != nil {
			msg.Error = u.Err.Error()
		}
	default:
		return
	}
	s.hub.Broadcast(msg)
}

// Shutdown stops the watcher, waits for in-flight jobs, disconnects
// websocket clients and shuts down the HTTP server. Only the first call has
// an effect.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.isShutdown.Store(true)
		s.logger.Info(ctx, "Shutting down server")

		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn(ctx, err, "Stopping file watcher failed")
		}

		if s.started.Load() {
			idle := make(chan struct{})
			go func() {
				<-s.dispatchDone
				s.scheduler.Wait()
				close(idle)
			}()
			select {
			case <-idle:
			case <-ctx.Done():
				shutdownErr = fmt.Errorf("waiting for in-flight updates: %w", ctx.Err())
			}
		}

		_ = s.hub.Close()
		if s.hubCancel != nil {
			s.hubCancel()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			if err := server.Shutdown(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}
