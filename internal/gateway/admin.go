// ABOUTME: Shared-secret gate for the destructive administrative wipe
// ABOUTME: An unconfigured secret permanently disables the endpoint, never silently allows

package gateway

import (
	"crypto/subtle"
	"errors"
)

// Admin gate errors.
var (
	// ErrWipeNotConfigured means no wipe secret is configured; the
	// endpoint is disabled for every supplied value, including empty.
	ErrWipeNotConfigured = errors.New("wipe secret not configured")

	// ErrWipeUnauthorized means the supplied secret did not match.
	ErrWipeUnauthorized = errors.New("invalid wipe secret")
)

// authorizeWipe validates the supplied secret against the configured one.
// Comparison is constant-time; no rate limiting or lockout is applied.
func authorizeWipe(supplied, configured string) error {
	if configured == "" {
		return ErrWipeNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(configured)) != 1 {
		return ErrWipeUnauthorized
	}
	return nil
}
