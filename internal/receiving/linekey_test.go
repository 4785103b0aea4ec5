package receiving

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLineKeyNormalises(t *testing.T) {
	key := NewLineKey("  G5000 ", "NAVY", "Xl")
	require.Equal(t, "g5000|navy|xl", key.String())
}

func TestNewLineKeyFallbacks(t *testing.T) {
	key := NewLineKey("", "  ", "")
	require.Equal(t, "item|n/a|n/a", key.String())
	require.False(t, key.IsZero())

	require.True(t, LineKey{}.IsZero())
}

func TestNewLineKeyEscapesDelimiter(t *testing.T) {
	key := NewLineKey("G|5000", "red|blue", "M")
	require.Equal(t, "g 5000|red blue|m", key.String())

	parsed, err := ParseLineKey(key.String())
	require.NoError(t, err)
	require.Equal(t, key, parsed)
}

func TestParseLineKeyRoundTrip(t *testing.T) {
	key := NewLineKey("G5000", "Navy", "M")
	parsed, err := ParseLineKey(key.String())
	require.NoError(t, err)
	require.Equal(t, key, parsed)
}

func TestParseLineKeyRejectsWrongArity(t *testing.T) {
	for _, raw := range []string{"", "g5000", "g5000|navy", "a|b|c|d"} {
		_, err := ParseLineKey(raw)
		require.Error(t, err, raw)
	}
}
