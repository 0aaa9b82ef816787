// Package hub fans lifecycle envelopes out to WebSocket subscribers, with
// QR catch-up for late arrivals and per-socket failure isolation.
package hub
