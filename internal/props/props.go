// Package props classifies node properties. Names under the entry and
// working-copy prefixes are bookkeeping carried next to the regular
// properties a user sets; they never count as user-visible changes.
package props

import (
	"bytes"
	"sort"
	"strings"

	"svnlite/internal/delta"
)

const (
	// Prefix shared by every reserved property.
	SvnPrefix   = "svn:"
	EntryPrefix = "svn:entry:"
	WCPrefix    = "svn:wc:"

	Mergeinfo  = "svn:mergeinfo"
	Executable = "svn:executable"
	Special    = "svn:special"
	MimeType   = "svn:mime-type"

	// Revision properties.
	RevAuthor = "svn:author"
	RevDate   = "svn:date"
	RevLog    = "svn:log"

	// Entry properties attached by update drives.
	EntryCommittedRev  = "svn:entry:committed-rev"
	EntryCommittedDate = "svn:entry:committed-date"
	EntryLastAuthor    = "svn:entry:last-author"
	EntryUUID          = "svn:entry:uuid"
	EntryLockToken     = "svn:entry:lock-token"
)

type Kind int

const (
	KindRegular Kind = iota
	KindEntry
	KindWC
)

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindWC:
		return "wc"
	default:
		return "regular"
	}
}

// Classify returns the kind of a property name.
func Classify(name string) Kind {
	switch {
	case strings.HasPrefix(name, EntryPrefix):
		return KindEntry
	case strings.HasPrefix(name, WCPrefix):
		return KindWC
	default:
		return KindRegular
	}
}

// Regular returns the regular properties of p, or nil if there are none.
func Regular(p delta.Props) delta.Props {
	var out delta.Props
	for name, value := range p {
		if Classify(name) != KindRegular {
			continue
		}
		if out == nil {
			out = make(delta.Props)
		}
		out[name] = value
	}
	return out
}

// Split partitions p by kind.
func Split(p delta.Props) (regular, entry, wc delta.Props) {
	regular, entry, wc = delta.Props{}, delta.Props{}, delta.Props{}
	for name, value := range p {
		switch Classify(name) {
		case KindEntry:
			entry[name] = value
		case KindWC:
			wc[name] = value
		default:
			regular[name] = value
		}
	}
	return regular, entry, wc
}

// Change is one property difference. A nil Value is a deletion.
type Change struct {
	Name  string
	Value []byte
}

// Diff lists the changes turning old into new, sorted by name.
func Diff(old, new delta.Props) []Change {
	var changes []Change
	for name, value := range new {
		if ov, ok := old[name]; !ok || !bytes.Equal(ov, value) {
			changes = append(changes, Change{Name: name, Value: value})
		}
	}
	for name := range old {
		if _, ok := new[name]; !ok {
			changes = append(changes, Change{Name: name})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}

// HasRegularChanges reports whether old and new differ in any regular
// property.
func HasRegularChanges(old, new delta.Props) bool {
	for _, c := range Diff(old, new) {
		if Classify(c.Name) == KindRegular {
			return true
		}
	}
	return false
}

// Validate rejects reserved names a client may not set on a node.
func Validate(p delta.Props) error {
	for name := range p {
		if name == "" {
			return errEmptyName
		}
		if Classify(name) != KindRegular {
			return &ReservedError{Name: name}
		}
	}
	return nil
}

type ReservedError struct {
	Name string
}

func (e *ReservedError) Error() string {
	return "property " + e.Name + " is reserved"
}

var errEmptyName = &ReservedError{Name: "(empty name)"}
