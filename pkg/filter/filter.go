// Package filter decides which events a consumer ignores.
package filter

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var ErrBadPattern = errors.New("bad ignore pattern")

// DefaultPatterns are editor and OS droppings nobody wants in a change log.
var DefaultPatterns = []string{
	"*.swp",
	"*~",
	".goutputstream-*",
	".DS_Store",
}

type Filter struct {
	patterns []string
}

// New validates patterns. A pattern containing a separator is matched against
// the whole slash separated path, any other pattern against the base name.
func New(patterns ...string) (*Filter, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Join(ErrBadPattern, fmt.Errorf("%q", p))
		}
	}
	return &Filter{patterns: append([]string(nil), patterns...)}, nil
}

// Ignored reports whether path matches one of the patterns.
func (f *Filter) Ignored(path string) bool {
	if f == nil {
		return false
	}
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, p := range f.patterns {
		target := base
		if strings.Contains(p, "/") {
			target = slashed
		}
		if ok, _ := doublestar.Match(p, target); ok {
			return true
		}
	}
	return false
}
