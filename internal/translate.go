package internal

import (
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
	"github.com/fsnotify/fsnotify"
)

var opFlags = [...]struct {
	op    fsnotify.Op
	flags source.Flags
}{
	{fsnotify.Create, source.FlagItemCreated},
	{fsnotify.Write, source.FlagItemModified},
	{fsnotify.Remove, source.FlagItemRemoved},
	{fsnotify.Rename, source.FlagItemRenamed},
	{fsnotify.Chmod, source.FlagItemInodeMetaMod},
}

// translate maps an fsnotify op onto the raw native layout.
func translate(op fsnotify.Op) source.Flags {
	var flags source.Flags
	for _, m := range opFlags {
		if op.Has(m.op) {
			flags |= m.flags
		}
	}
	return flags
}
