package store

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldKind is matched by FieldKindError.
	ErrFieldKind = errors.New("store: field kind mismatch")
	// ErrNoRecord is returned when writing a field of a record that was
	// never put into the writable layer.
	ErrNoRecord = errors.New("store: record not writable")
	// ErrNoRange is returned for range operations on a record without one.
	ErrNoRange = errors.New("store: record has no range")
)

// FieldKindError reports a write or read that would change a field from a
// scalar to a link or the other way around.
type FieldKindError struct {
	ID       string
	Key      string
	Stored   ValueKind
	Accessed ValueKind
}

func (e *FieldKindError) Error() string {
	return fmt.Sprintf("store: field %q of record %q holds a %s, accessed as %s", e.Key, e.ID, e.Stored, e.Accessed)
}

func (e *FieldKindError) Is(target error) bool { return target == ErrFieldKind }
