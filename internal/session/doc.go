// Package session owns the single messaging-client handle and its lifecycle.
//
// # States
//
// The session tracks a small derived state machine:
//
//	uninitialized -> awaiting_scan -> authenticating -> connected
//	                                                       |
//	                                                  disconnected
//
// Transitions are driven exclusively by events from the client collaborator;
// the HTTP surface only reads snapshots.
//
// # Reset vs Wipe
//
// Reset is the user-initiated path: logout and destroy must both succeed or
// the reset aborts without recreation, and only the credential directory is
// deleted. Wipe is the secret-gated recovery path: teardown failures are
// logged and swallowed, and both the credential and cache directories are
// deleted before a fresh client is constructed.
//
// Both operations take the same single-writer lock as dispatch batches, so a
// reset never interleaves with an in-flight send.
package session
