//go:build unix

package internal

import (
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
	"golang.org/x/sys/unix"
)

// itemType returns the type bits of path, or ok=false when it cannot be lstat'ed.
func itemType(path string) (flags source.Flags, ok bool) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return source.FlagNone, false
	}

	switch uint32(st.Mode) & unix.S_IFMT {
	case unix.S_IFDIR:
		flags = source.FlagItemIsDir
	case unix.S_IFLNK:
		flags = source.FlagItemIsSymlink
	default:
		flags = source.FlagItemIsFile
	}
	if flags == source.FlagItemIsFile && uint64(st.Nlink) > 1 {
		flags |= source.FlagItemIsHardlink
	}
	return flags, true
}
