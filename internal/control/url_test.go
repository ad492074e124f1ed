package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "bare host gets https prefix",
			raw:  "example.com",
			want: "https://example.com",
		},
		{
			name: "explicit https unchanged",
			raw:  "https://example.com",
			want: "https://example.com",
		},
		{
			name: "explicit http preserved",
			raw:  "http://example.com/path?q=1",
			want: "http://example.com/path?q=1",
		},
		{
			name: "scheme case insensitive",
			raw:  "HTTPS://example.com",
			want: "HTTPS://example.com",
		},
		{
			name: "host with path",
			raw:  "example.org/a/b",
			want: "https://example.org/a/b",
		},
		{
			name: "surrounding whitespace trimmed",
			raw:  "  example.com  ",
			want: "https://example.com",
		},
		{
			name:    "empty input",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "whitespace only",
			raw:     "   ",
			wantErr: true,
		},
		{
			name:    "spaces survive prefixing",
			raw:     "not a url",
			wantErr: true,
		},
		{
			name:    "scheme without host",
			raw:     "https://",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				var invalid *InvalidURLError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLEquivalence(t *testing.T) {
	bare, err := NormalizeURL("example.com")
	require.NoError(t, err)
	explicit, err := NormalizeURL("https://example.com")
	require.NoError(t, err)
	assert.Equal(t, explicit, bare)
}
