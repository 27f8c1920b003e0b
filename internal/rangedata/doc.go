// Package rangedata stitches the pages of a paginated connection into
// ordered segments of edges.
//
// A Range starts with two empty segments: the head of the list, filled by
// first(N) pages, and its tail, filled by last(N) pages. Pages fetched
// with after/before cursors extend the segment holding the cursor. A page
// that reaches a neighbouring segment without a further page between them
// concatenates the two, so once the whole list is known a single segment
// remains.
//
// RetrieveRangeInfoForQuery answers a window request from the cached
// segments and, when data is missing, synthesizes the smallest calls that
// would fetch it. Static calls (surrounds, find) are cached verbatim by
// their call string.
//
// Range and Segment encode to a positional JSON array so a range can be
// persisted and restored with identical retrieval behavior.
package rangedata
