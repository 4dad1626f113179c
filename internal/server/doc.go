// Package server hosts the StreamForge video API from a single HTTP server.
//
// The server builds a consistent middleware chain of request ids, logging,
// audit, metrics, security headers, CORS, and rate limiting so the video
// routes all share common protections and instrumentation.
package server
