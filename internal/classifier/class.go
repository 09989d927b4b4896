package classifier

import (
	"fmt"
	"strings"
)

// Class is the estimated complexity of a target page.
type Class int

const (
	Unknown Class = iota
	Static
	Dynamic
	Structured
	Protected
)

var classNames = map[Class]string{
	Static:     "STATIC",
	Dynamic:    "DYNAMIC",
	Structured: "STRUCTURED",
	Protected:  "PROTECTED",
}

func (c Class) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseClass accepts the upper- or lower-case class name.
func ParseClass(s string) (Class, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for c, n := range classNames {
		if n == want {
			return c, nil
		}
	}
	return Unknown, fmt.Errorf("unknown complexity class %q", s)
}

// All lists every concrete class.
var All = []Class{Static, Dynamic, Structured, Protected}

// Set is a small bitset of classes.
type Set uint8

// SetOf builds a Set.
func SetOf(cs ...Class) Set {
	var s Set
	for _, c := range cs {
		s |= 1 << uint(c)
	}
	return s
}

// AllClasses is the set containing every concrete class.
var AllClasses = SetOf(All...)

func (s Set) Has(c Class) bool { return s&(1<<uint(c)) != 0 }

func (s Set) With(c Class) Set { return s | 1<<uint(c) }

func (s Set) Classes() []Class {
	var out []Class
	for _, c := range All {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s Set) String() string {
	var names []string
	for _, c := range s.Classes() {
		names = append(names, c.String())
	}
	return strings.Join(names, "|")
}
