package hosts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	p := New([]string{" Tracker.Example.com ", "*.ru", ".doubleclick.net", "*.", ""})
	cases := []struct {
		host    string
		blocked bool
	}{
		{"tracker.example.com", true},
		{"sub.tracker.example.com", false},
		{"example.ru", true},
		{"ru", true},
		{"ad.g.doubleclick.net", true},
		{"example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.blocked, p.IsBlocked(tc.host), tc.host)
	}
	assert.Len(t, p.suffixes, 2)
}

func TestNilPolicyBlocksNothing(t *testing.T) {
	t.Parallel()

	var p *Policy
	assert.False(t, p.IsBlocked("example.com"))
	require.NoError(t, p.AllowFetch("https://example.com/a.png"))
}

func TestAllowFetch(t *testing.T) {
	t.Parallel()

	p := New([]string{"*.tracking.example"})

	require.NoError(t, p.AllowFetch("https://cdn.example.com/a.png"))
	require.NoError(t, p.AllowFetch("HTTP://cdn.example.com/a.png"))
	require.ErrorIs(t, p.AllowFetch("data:image/png;base64,AAAA"), ErrUnsupportedScheme)
	require.ErrorIs(t, p.AllowFetch("/relative/a.png"), ErrUnsupportedScheme)
	require.ErrorIs(t, p.AllowFetch("https://pixel.tracking.example/open.gif"), ErrBlockedHost)
	require.Error(t, p.AllowFetch("http://[::1"))
}
