// Package internal contains the implementation packages of bloxciting.
//
// # Package Organization
//
//   - entry: immutable cache entries and logical path helpers
//   - watcher: recursive fsnotify watcher with a per-path stability window
//   - renderer: goldmark rendering, summary extraction and the page shell
//   - pipeline: hash plus compile per document, the per-path scheduler,
//     one-shot rebuilds and compilation metrics
//   - cache: the in-memory content cache keyed by logical path
//   - resolver: HTTP lookup with conditional requests and category listings
//   - websocket: the live update hub
//   - server: wires everything together behind the HTTP middleware chain
//   - config, logging, errors, validation, version: supporting packages
//   - testutils: fixtures shared by package tests
//
// # Data Flow
//
// The watcher emits one settled event per document change. The scheduler
// serializes events per logical path and hands them to the pipeline, which
// reads the source once, hashes and renders it concurrently, and writes the
// artifact into the shadow output directory. The resulting entry replaces
// the previous one in the cache and is announced to websocket clients.
// The resolver only ever reads cache snapshots.
//
// # Failure Scoping
//
// A failure affects a single path's update or a single request. It is
// logged and the previous entry, if any, keeps being served.
package internal
