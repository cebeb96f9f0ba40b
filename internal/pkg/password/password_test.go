package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"harambee2024", nil},
		{"short1", ErrTooShort},
		{"onlyletters", ErrNoDigit},
		{"1234567890", ErrNoLetter},
		{strings.Repeat("a1", 40), ErrTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Check(tt.in))
		})
	}
}

func TestHashVerify(t *testing.T) {
	h, err := Hash("harambee2024")
	require.NoError(t, err)
	assert.True(t, Verify("harambee2024", h))
	assert.False(t, Verify("harambee2025", h))
}

func TestHashTokenStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.Len(t, HashToken("abc"), 64)
}
