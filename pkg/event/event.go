// Package event decodes native change bitmasks into named flags and defines
// the event value delivered to monitor delegates.
package event

import "fmt"

// FileEvent is one observed change. It is a value and safe to share.
type FileEvent struct {
	Path  string
	Flags FlagSet
}

func (e FileEvent) Has(f Flag) bool { return e.Flags.Has(f) }

func (e FileEvent) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Flags)
}
