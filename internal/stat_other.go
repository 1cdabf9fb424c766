//go:build !unix

package internal

import (
	"os"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
)

func itemType(path string) (source.Flags, bool) {
	fi, err := os.Lstat(path)
	if err != nil {
		return source.FlagNone, false
	}
	switch {
	case fi.IsDir():
		return source.FlagItemIsDir, true
	case fi.Mode()&os.ModeSymlink != 0:
		return source.FlagItemIsSymlink, true
	default:
		return source.FlagItemIsFile, true
	}
}
