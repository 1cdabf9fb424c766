// Package source describes the native change-notification facility the monitor
// depends on. Implementations report raw events in the FSEvents flag layout and
// identify every event by a monotonically increasing id, the cursor.
package source

import (
	"os"
	"path/filepath"
	"strings"
)

// Flags is a raw native event bitmask.
type Flags uint32

const (
	FlagNone               Flags = 0x00000000
	FlagMustScanSubDirs    Flags = 0x00000001
	FlagUserDropped        Flags = 0x00000002
	FlagKernelDropped      Flags = 0x00000004
	FlagEventIDsWrapped    Flags = 0x00000008
	FlagHistoryDone        Flags = 0x00000010
	FlagRootChanged        Flags = 0x00000020
	FlagMount              Flags = 0x00000040
	FlagUnmount            Flags = 0x00000080
	FlagItemCreated        Flags = 0x00000100
	FlagItemRemoved        Flags = 0x00000200
	FlagItemInodeMetaMod   Flags = 0x00000400
	FlagItemRenamed        Flags = 0x00000800
	FlagItemModified       Flags = 0x00001000
	FlagItemFinderInfoMod  Flags = 0x00002000
	FlagItemChangeOwner    Flags = 0x00004000
	FlagItemXattrMod       Flags = 0x00008000
	FlagItemIsFile         Flags = 0x00010000
	FlagItemIsDir          Flags = 0x00020000
	FlagItemIsSymlink      Flags = 0x00040000
	FlagOwnEvent           Flags = 0x00080000
	FlagItemIsHardlink     Flags = 0x00100000
	FlagItemIsLastHardlink Flags = 0x00200000
	FlagItemCloned         Flags = 0x00400000
)

func (f Flags) Has(h Flags) bool { return f&h == h }

// RawEvent is a single undecoded change reported by the native layer.
type RawEvent struct {
	ID    uint64
	Path  string
	Flags Flags
}

// Batch is a group of events handed over in one callback. Cursor is the id of
// the last journal entry the stream scanned, which may be newer than the last
// event in Events when entries were filtered out.
type Batch struct {
	Events []RawEvent
	Cursor uint64
}

// Source is the outbound contract of the monitor.
type Source interface {
	// CurrentCursor returns the position of the newest event, i.e. "now".
	CurrentCursor() uint64

	// Subscribe starts observing paths from the event following since.
	Subscribe(paths []string, since uint64) (Stream, error)
}

// Stream is one native subscription.
type Stream interface {
	// Run blocks and calls handle for every batch until stop is closed.
	// stop is only checked between batches.
	Run(stop <-chan struct{}, handle func(Batch)) error

	// Close unsubscribes and releases native resources.
	Close() error
}

// Covers reports whether path is root itself or lies below it.
func Covers(root, path string) bool {
	rootPath := filepath.Clean(root)
	childPath := filepath.Clean(path)
	if rootPath == childPath {
		return true
	}
	rel, err := filepath.Rel(rootPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
