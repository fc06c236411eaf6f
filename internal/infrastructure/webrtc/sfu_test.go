package webrtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortPeerID_TruncatesLongIDs(t *testing.T) {
	assert.Equal(t, "01234567", shortPeerID("0123456789abcdef"))
}

func TestShortPeerID_LeavesShortIDsUnchanged(t *testing.T) {
	assert.Equal(t, "abc", shortPeerID("abc"))
}
