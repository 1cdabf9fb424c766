package event

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownFlag = errors.New("unknown event flag")

// FlagSet is an immutable set of flags.
type FlagSet uint32

func NewFlagSet(flags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s |= FlagSet(f)
	}
	return s
}

func (s FlagSet) Has(f Flag) bool { return f != 0 && s&FlagSet(f) == FlagSet(f) }

func (s FlagSet) Contains(o FlagSet) bool { return s&o == o }

func (s FlagSet) IsDisjoint(o FlagSet) bool { return s&o == 0 }

func (s FlagSet) Union(o FlagSet) FlagSet { return s | o }

func (s FlagSet) Intersect(o FlagSet) FlagSet { return s & o }

func (s FlagSet) IsEmpty() bool { return s == 0 }

// Flags lists the members of s ordered by name.
func (s FlagSet) Flags() []Flag {
	flags := make([]Flag, 0, len(flagTable))
	for _, e := range flagTable {
		if s.Has(e.flag) {
			flags = append(flags, e.flag)
		}
	}
	return flags
}

// String renders the flag names sorted and joined by ", ". The empty set
// renders as "".
func (s FlagSet) String() string {
	var b strings.Builder
	for _, e := range flagTable {
		if !s.Has(e.flag) {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.name)
	}
	return b.String()
}

// ParseFlagSet reads the output of FlagSet.String.
func ParseFlagSet(text string) (FlagSet, error) {
	var s FlagSet
	if strings.TrimSpace(text) == "" {
		return s, nil
	}
	for _, part := range strings.Split(text, ",") {
		name := strings.TrimSpace(part)
		f, ok := flagByName(name)
		if !ok {
			return 0, errors.Join(ErrUnknownFlag, fmt.Errorf("%q", name))
		}
		s |= FlagSet(f)
	}
	return s, nil
}

func (s FlagSet) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *FlagSet) UnmarshalText(text []byte) error {
	parsed, err := ParseFlagSet(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func flagByName(name string) (Flag, bool) {
	for _, e := range flagTable {
		if e.name == name {
			return e.flag, true
		}
	}
	return 0, false
}
