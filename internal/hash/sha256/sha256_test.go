package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		opts  []Option
		want  string
	}{
		{"full digest", "hello world", nil, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		{"empty input", "", nil, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"truncated", "hello world", []Option{WithLength(8)}, "b94d27b9"},
		{"zero length keeps full", "", []Option{WithLength(0)}, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"oversized length keeps full", "", []Option{WithLength(128)}, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := New(tt.opts...).Hash([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasherDistinguishesQueries(t *testing.T) {
	t.Parallel()

	h := New(WithLength(8))
	a, err := h.Hash([]byte("w=200"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("w=400"))
	require.NoError(t, err)
	again, err := h.Hash([]byte("w=200"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}
