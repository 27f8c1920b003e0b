package rangedata

import "errors"

var (
	// ErrUnsupportedCalls is returned for call combinations a range cannot
	// address, e.g. first and last together or no count at all.
	ErrUnsupportedCalls = errors.New("rangedata: unsupported range calls")
	// ErrNullCursor is returned when after or before is explicitly null.
	ErrNullCursor = errors.New("rangedata: null cursor")
	// ErrCursorNotFound is returned when a cursor is not held by any segment.
	ErrCursorNotFound = errors.New("rangedata: cursor not found")
	// ErrCursorMismatch is returned when a bounding cursor does not match
	// the adjacent segment, so the page cannot be stitched.
	ErrCursorMismatch = errors.New("rangedata: cursor does not match adjacent segment")
	// ErrReconcile is returned when fetched edges disagree with cached
	// edges at the same position and no cursor can disambiguate them.
	ErrReconcile = errors.New("rangedata: unable to reconcile edges")
	ErrDuplicateEdge = errors.New("rangedata: edge already in segment")
	ErrNoncontiguous = errors.New("rangedata: noncontiguous index")
	ErrMalformed     = errors.New("rangedata: malformed range encoding")
)

func isDuplicate(err error) bool { return errors.Is(err, ErrDuplicateEdge) }
