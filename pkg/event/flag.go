package event

import "github.com/ManouchehrRasoulli/fsmonitor/pkg/source"

// Flag is a single semantic change flag.
type Flag uint32

const (
	EventIDsWrapped Flag = 1 << iota
	HistoryDone
	ItemChangeOwner
	ItemCloned
	ItemCreated
	ItemFinderInfoMod
	ItemInodeMetaMod
	ItemIsDir
	ItemIsFile
	ItemIsHardlink
	ItemIsLastHardlink
	ItemIsSymlink
	ItemModified
	ItemRemoved
	ItemRenamed
	ItemXattrMod
	KernelDropped
	Mount
	MustScanSubDirs
	OwnEvent
	RootChanged
	Unmount
	UserDropped
)

type flagEntry struct {
	flag Flag
	raw  source.Flags
	name string
}

// flagTable is kept in name order so rendering needs no sort.
var flagTable = [...]flagEntry{
	{EventIDsWrapped, source.FlagEventIDsWrapped, "EventIDsWrapped"},
	{HistoryDone, source.FlagHistoryDone, "HistoryDone"},
	{ItemChangeOwner, source.FlagItemChangeOwner, "ItemChangeOwner"},
	{ItemCloned, source.FlagItemCloned, "ItemCloned"},
	{ItemCreated, source.FlagItemCreated, "ItemCreated"},
	{ItemFinderInfoMod, source.FlagItemFinderInfoMod, "ItemFinderInfoMod"},
	{ItemInodeMetaMod, source.FlagItemInodeMetaMod, "ItemInodeMetaMod"},
	{ItemIsDir, source.FlagItemIsDir, "ItemIsDir"},
	{ItemIsFile, source.FlagItemIsFile, "ItemIsFile"},
	{ItemIsHardlink, source.FlagItemIsHardlink, "ItemIsHardlink"},
	{ItemIsLastHardlink, source.FlagItemIsLastHardlink, "ItemIsLastHardlink"},
	{ItemIsSymlink, source.FlagItemIsSymlink, "ItemIsSymlink"},
	{ItemModified, source.FlagItemModified, "ItemModified"},
	{ItemRemoved, source.FlagItemRemoved, "ItemRemoved"},
	{ItemRenamed, source.FlagItemRenamed, "ItemRenamed"},
	{ItemXattrMod, source.FlagItemXattrMod, "ItemXattrMod"},
	{KernelDropped, source.FlagKernelDropped, "KernelDropped"},
	{Mount, source.FlagMount, "Mount"},
	{MustScanSubDirs, source.FlagMustScanSubDirs, "MustScanSubDirs"},
	{OwnEvent, source.FlagOwnEvent, "OwnEvent"},
	{RootChanged, source.FlagRootChanged, "RootChanged"},
	{Unmount, source.FlagUnmount, "Unmount"},
	{UserDropped, source.FlagUserDropped, "UserDropped"},
}

// String returns the flag name, or an empty string for combined or unknown values.
func (f Flag) String() string {
	for _, e := range flagTable {
		if e.flag == f {
			return e.name
		}
	}
	return ""
}

// Decode maps every known bit of raw to its flag. Unknown bits are dropped.
func Decode(raw source.Flags) FlagSet {
	var s FlagSet
	for _, e := range flagTable {
		if raw&e.raw != 0 {
			s |= FlagSet(e.flag)
		}
	}
	return s
}

// Encode is the inverse of Decode.
func Encode(s FlagSet) source.Flags {
	var raw source.Flags
	for _, e := range flagTable {
		if s.Has(e.flag) {
			raw |= e.raw
		}
	}
	return raw
}
