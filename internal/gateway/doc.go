// Package gateway orchestrates the zap-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the zap-gateway server.
// It owns the session state machine, the WebSocket broadcast hub, the
// dispatch pipeline, the IP allowlist gate, and the HTTP server, and wires
// them together at construction time.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - GET /api/qr - Current pairing QR as PNG, or a status payload
//   - GET /api/status - Session state: disconnected, connecting, connected
//   - POST /api/send - Bulk send to comma-separated recipients, optional file
//   - GET /api/sendMessage/{recipient}/{message} - Single plain-text send
//   - GET /api/disconnect - User-initiated session reset
//   - POST /api/clear-connections - Secret-gated full wipe
//   - GET /ws - WebSocket push stream of lifecycle envelopes
//   - GET /health - Liveness check
//
// Every route sits behind the allowlist middleware; a denied request gets
// 403 with no further detail.
//
// # WebSocket Push
//
// Lifecycle envelopes are pushed to /ws subscribers:
//
//	{"type": "qr", "data": "<pairing payload>"}
//	{"type": "authenticated"}
//	{"type": "disconnected"}
//
// A subscriber arriving while a QR payload is active receives it immediately
// on connect.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run starts the session's first connection attempt, serves HTTP until the
// context is canceled, then shuts down the server, the hub, and the client.
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, Run/Shutdown
//   - api.go: HTTP handlers and form parsing
//   - ws.go: WebSocket upgrade path
//   - admin.go: wipe secret gate
package gateway
