// ABOUTME: Tests for the boundary contract's pure helpers
// ABOUTME: Covers chat ID formation and media kind classification

package wa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserChatID(t *testing.T) {
	assert.Equal(t, "551187654321@s.whatsapp.net", UserChatID("551187654321"))
}

func TestKindForMimetype(t *testing.T) {
	assert.Equal(t, MediaImage, KindForMimetype("image/png"))
	assert.Equal(t, MediaImage, KindForMimetype("image/jpeg"))
	assert.Equal(t, MediaDocument, KindForMimetype("application/pdf"))
	assert.Equal(t, MediaDocument, KindForMimetype("text/plain"))
	assert.Equal(t, MediaDocument, KindForMimetype(""))
}
