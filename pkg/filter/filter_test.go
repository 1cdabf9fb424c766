package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Ignored(t *testing.T) {
	f, err := New(append(DefaultPatterns, "*.tmp", "/var/log/**")...)
	require.NoError(t, err)

	tests := []struct {
		path    string
		ignored bool
	}{
		{path: "/home/u/notes.txt.swp", ignored: true},
		{path: "/home/u/notes.txt~", ignored: true},
		{path: "/home/u/.goutputstream-XYZ", ignored: true},
		{path: "/home/u/build.tmp", ignored: true},
		{path: "/var/log/syslog", ignored: true},
		{path: "/home/u/notes.txt", ignored: false},
		{path: "/var/lib/x", ignored: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ignored, f.Ignored(tt.path))
		})
	}
}

func TestFilter_BadPattern(t *testing.T) {
	_, err := New("[")
	assert.ErrorIs(t, err, ErrBadPattern)

	var f *Filter
	assert.False(t, f.Ignored("/tmp/a"))
}
