package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCovers(t *testing.T) {
	tests := []struct {
		name   string
		root   string
		path   string
		expect bool
	}{
		{name: "same path", root: "/tmp/a", path: "/tmp/a", expect: true},
		{name: "child", root: "/tmp/a", path: "/tmp/a/child", expect: true},
		{name: "nested child", root: "/tmp/a", path: "/tmp/a/b/c", expect: true},
		{name: "sibling with shared prefix", root: "/tmp/a", path: "/tmp/ab", expect: false},
		{name: "parent", root: "/tmp/a", path: "/tmp", expect: false},
		{name: "unclean root", root: "/tmp/a/", path: "/tmp/a/x", expect: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Covers(tt.root, tt.path))
		})
	}
}

func TestFlags_Has(t *testing.T) {
	f := FlagItemCreated | FlagItemIsDir
	assert.True(t, f.Has(FlagItemCreated))
	assert.True(t, f.Has(FlagItemCreated|FlagItemIsDir))
	assert.False(t, f.Has(FlagItemRemoved))
}
