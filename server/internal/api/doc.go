// Package api implements the HTTP API of the club index.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /vereine               all clubs ([]types.ListItem), ordered by name
//	GET  /verein/{identifier}   one club by id, slug or name; 404 if unknown
//	GET  /health                snapshot status (directory.Status)
//	GET  /metrics               Prometheus text exposition
//	GET  /ws/status             WebSocket status stream
//	POST /admin/refresh         forced refresh, API key protected
//
// Reads answer 503 with Retry-After while no snapshot has ever been built.
// Unsupported methods get 405, unknown paths 404, both as JSON errors.
// Routing is chi; CORS is rs/cors.
package api
