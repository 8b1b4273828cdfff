package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float32{0.25, -1.5, 0, 3.14159}

	s := EncodeVector(vec)
	assert.Equal(t, "[0.25,-1.5,0,3.14159]", s)

	got, err := DecodeVector(s)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestEncodeVectorEmpty(t *testing.T) {
	assert.Equal(t, "[]", EncodeVector(nil))

	got, err := DecodeVector("[]")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeVectorErrors(t *testing.T) {
	for _, s := range []string{"", "1,2,3", "[1,2", "[1,abc,3]"} {
		_, err := DecodeVector(s)
		assert.ErrorIs(t, err, ErrBadVector, "input %q", s)
	}
}

func TestDecodeVectorTolerantOfSpaces(t *testing.T) {
	got, err := DecodeVector(" [1, 2.5, -3] ")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2.5, -3}, got)
}
