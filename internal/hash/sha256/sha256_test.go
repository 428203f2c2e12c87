package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)

	other, err := h.Hash([]byte("<html></html>"))
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}

func TestShort(t *testing.T) {
	t.Parallel()

	require.Equal(t, "b94d27b9934d3e08", Short("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"))
	require.Equal(t, "abc", Short("abc"))
	require.Empty(t, Short(""))
}
