// Package api implements the read-only HTTP status API and WebSocket
// notification stream for the address server.
//
// This package provides:
//   - Health and runtime metrics endpoints for monitoring
//   - A paged node listing backed by the engine's query operation
//   - A WebSocket hub that relays address release notifications
//   - Middleware stack (request ID, logging, recovery)
//
// # Architecture
//
// All registry mutations go through the admin socket. The HTTP surface
// only reads: it calls the engine's Query operation and reports component
// health. The Hub implements the engine's Notifier interface, so every
// release the engine emits is broadcast to WebSocket clients subscribed
// to the "node.released" channel.
package api
