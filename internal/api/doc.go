// Package api hosts the HTTP handlers that front the StreamForge REST API.
//
// Handler coordinates request validation and response shaping while
// delegating persistence to the storage.Repository and transcoding work to
// the pipeline.Orchestrator injected at construction time. The package does
// not reach for globals or singletons and expects callers to supply fully
// configured dependencies.
//
// Handlers assume the middleware stack from internal/server has already
// applied rate limiting, metrics, request ids, and logging. New routes should
// preserve that contract by leaning on the middleware guarantees instead of
// duplicating them.
package api
