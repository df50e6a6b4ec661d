// Package api implements the HTTP REST API and WebSocket server for Gray Logic Show.
//
// This package provides:
//   - REST endpoints for every board operation (scenes, cues, playback, shortcuts)
//   - Read access to universe output and the tag cache
//   - WebSocket hub that receives board observer pushes ("scenes", "values")
//   - Optional JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API is one control path among several (rules, MIDI, OSC, the tag bus).
// Handlers call exported board methods, which serialize against the render
// tick with the board state lock. The hub is the board's Observer: pushes
// arrive under the board's timeout-bounded push lock and are fanned out to
// subscribed clients without blocking.
//
// # Security
//
// When security.jwt.secret is empty the API is open, which suits a show
// network with no outside access. With a secret, every route except
// /health and /metrics needs an HS256 bearer token issued by the site's
// identity service. WebSocket connections use single-use tickets so the
// token never appears in a URL.
package api
