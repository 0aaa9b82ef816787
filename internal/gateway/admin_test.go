// ABOUTME: Tests for the wipe secret gate
// ABOUTME: Covers the unconfigured, mismatched, and matching secret cases

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizeWipe(t *testing.T) {
	cases := []struct {
		name       string
		supplied   string
		configured string
		want       error
	}{
		{"unconfigured rejects everything", "anything", "", ErrWipeNotConfigured},
		{"unconfigured rejects empty too", "", "", ErrWipeNotConfigured},
		{"mismatch", "wrong", "correct", ErrWipeUnauthorized},
		{"empty supplied", "", "correct", ErrWipeUnauthorized},
		{"match", "correct", "correct", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := authorizeWipe(tc.supplied, tc.configured)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}
