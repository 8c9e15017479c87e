package rib

import "fmt"

// Kind names a routing-table error condition, mirrored on the teacher's
// entities.ErrorType enum (error kinds, not error types, per the protocol's
// error-handling design).
type Kind int

const (
	// KindUndefinedNewEntry means upsert was asked to create an entry
	// without all three required fields. This is a programming error in
	// the engine, not a runtime condition, so it is never silently
	// swallowed.
	KindUndefinedNewEntry Kind = iota
	// KindNotFound means the destination has no entry.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUndefinedNewEntry:
		return "undefined-new-entry"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Error is a routing-table error tagged with its Kind.
type Error struct {
	Kind        Kind
	Destination int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: destination %d", e.Kind, e.Destination)
}
