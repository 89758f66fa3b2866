package pathbuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendAndViews(t *testing.T) {
	b, err := NewFromString("/usr")
	require.NoError(t, err)
	assert.Equal(t, 4, b.Len())

	require.NoError(t, b.AppendSeparator("lib"))
	assert.Equal(t, "/usr/lib", b.Path())
	assert.Equal(t, []byte("/usr/lib"), b.Bytes())
	assert.Equal(t, 8, b.Len())
}

func TestBuffer_SeparatorNotDoubled(t *testing.T) {
	b, err := NewFromString("/usr/")
	require.NoError(t, err)
	require.NoError(t, b.AppendSeparator("lib"))
	assert.Equal(t, "/usr/lib", b.Path())
}

func TestBuffer_CapacityExceeded(t *testing.T) {
	b, err := NewFromString(strings.Repeat("a", MaxPathLen))
	require.NoError(t, err)

	err = b.Append("x")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	// Failed append leaves the buffer untouched.
	assert.Equal(t, MaxPathLen, b.Len())

	err = b.AppendSeparator("x")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, MaxPathLen, b.Len())

	_, err = NewFromString(strings.Repeat("a", MaxPathLen+1))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestBuffer_TruncateAndReset(t *testing.T) {
	b, err := NewFromString("/usr/lib")
	require.NoError(t, err)

	b.Truncate(4)
	assert.Equal(t, "/usr", b.Path())

	// Truncating past the current length is a no-op.
	b.Truncate(100)
	assert.Equal(t, "/usr", b.Path())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, "", b.Path())
}
