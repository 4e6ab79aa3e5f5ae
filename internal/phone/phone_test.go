package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		digits string
	}{
		{"plus prefixed with spaces", "+20 100 123 4567", "201001234567"},
		{"plus prefixed with punctuation", " +1 (555) 010-9999 ", "15550109999"},
		{"international trunk prefix", "00201001234567", "201001234567"},
		{"trunk prefix with spaces", "00 44 20 7946 0018", "442079460018"},
		{"bare digits", "201001234567", "201001234567"},
		{"national format kept as is", "0100 123 4567", "01001234567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.digits, n.Digits)
			assert.Equal(t, "+"+tt.digits, n.E164)
			assert.Equal(t, n.E164, n.String())
		})
	}
}

func TestNormalizePlusKeepsExactlyOneLeadingPlus(t *testing.T) {
	for _, raw := range []string{"++201001234567", "+ +20-100", "+(20)100"} {
		n, err := Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "+", n.E164[:1])
		assert.NotContains(t, n.E164[1:], "+")
	}
}

func TestNormalizeNoDigits(t *testing.T) {
	for _, raw := range []string{"", "   ", "+", "00", "abc"} {
		_, err := Normalize(raw)
		assert.ErrorIs(t, err, ErrNoDigits, raw)
	}
}

func TestStrict(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		err  error
	}{
		{"+201001234567", "+201001234567", nil},
		{"0020 100 123 4567", "+201001234567", nil},
		{"12345678", "+12345678", nil},
		{"1234567", "", ErrInvalidNumber},
		{"123456789012345", "+123456789012345", nil},
		{"1234567890123456", "", ErrInvalidNumber},
		{"", "", ErrNoDigits},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			n, err := Strict(tt.raw)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.E164)
		})
	}
}

func TestTail(t *testing.T) {
	long, _ := Normalize("+201001234567")
	assert.Equal(t, "1001234567", long.Tail())

	exact, _ := Normalize("1001234567")
	assert.Equal(t, "1001234567", exact.Tail())

	nine, _ := Normalize("123456789")
	assert.Equal(t, "123456789", nine.Tail())

	short, _ := Normalize("12345678")
	assert.Empty(t, short.Tail())
}
