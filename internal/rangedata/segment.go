package rangedata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Edge is one fetched edge of a connection. An empty Cursor means the
// server returned no cursor for it.
type Edge struct {
	ID     string
	Cursor string
}

type edgeMetadata struct {
	edgeID  string
	cursor  string
	deleted bool
}

// Segment is a contiguous run of edges. Edges are addressed by integer
// indices that only grow outwards; removed edges keep their index and are
// flagged deleted so the positions of their neighbours stay stable.
type Segment struct {
	indexToMetadata map[int]*edgeMetadata
	// Most recent index first. Only the first entry can be live.
	idToIndices   map[string][]int
	cursorToIndex map[string]int
	count         int
	minIndex      int
	maxIndex      int
	hasIndices    bool
}

// NewSegment returns an empty segment.
func NewSegment() *Segment {
	return &Segment{
		indexToMetadata: make(map[int]*edgeMetadata),
		idToIndices:     make(map[string][]int),
		cursorToIndex:   make(map[string]int),
	}
}

func (s *Segment) edgeAt(index int) *edgeMetadata {
	m := s.indexToMetadata[index]
	if m == nil || m.deleted {
		return nil
	}
	return m
}

func (s *Segment) indexForID(id string) (int, bool) {
	indices := s.idToIndices[id]
	if len(indices) == 0 {
		return 0, false
	}
	return indices[0], true
}

func (s *Segment) indexForCursor(cursor string) (int, bool) {
	if cursor == "" {
		return 0, false
	}
	i, ok := s.cursorToIndex[cursor]
	return i, ok
}

// Count is the number of live edges.
func (s *Segment) Count() int { return s.count }

// Length is the number of indices spanned, deleted edges included.
func (s *Segment) Length() int {
	if !s.hasIndices {
		return 0
	}
	return s.maxIndex - s.minIndex + 1
}

// ContainsEdgeWithID reports whether id is a live edge of the segment.
func (s *Segment) ContainsEdgeWithID(id string) bool {
	i, ok := s.indexForID(id)
	return ok && s.edgeAt(i) != nil
}

// ContainsEdgeWithCursor reports whether a live edge carries cursor.
func (s *Segment) ContainsEdgeWithCursor(cursor string) bool {
	_, ok := s.indexForCursor(cursor)
	return ok
}

func (s *Segment) first() *edgeMetadata {
	if s.count == 0 {
		return nil
	}
	for i := s.minIndex; i <= s.maxIndex; i++ {
		if m := s.edgeAt(i); m != nil {
			return m
		}
	}
	return nil
}

func (s *Segment) last() *edgeMetadata {
	if s.count == 0 {
		return nil
	}
	for i := s.maxIndex; i >= s.minIndex; i-- {
		if m := s.edgeAt(i); m != nil {
			return m
		}
	}
	return nil
}

// FirstCursor returns the cursor of the first live edge. ok is false when
// the segment has no live edges; cursor is empty when that edge has none.
func (s *Segment) FirstCursor() (cursor string, ok bool) {
	if m := s.first(); m != nil {
		return m.cursor, true
	}
	return "", false
}

// LastCursor is FirstCursor for the last live edge.
func (s *Segment) LastCursor() (cursor string, ok bool) {
	if m := s.last(); m != nil {
		return m.cursor, true
	}
	return "", false
}

func (s *Segment) FirstID() (string, bool) {
	if m := s.first(); m != nil {
		return m.edgeID, true
	}
	return "", false
}

func (s *Segment) LastID() (string, bool) {
	if m := s.last(); m != nil {
		return m.edgeID, true
	}
	return "", false
}

// Metadata is an ordered window of live edges.
type Metadata struct {
	EdgeIDs []string
	Cursors []string
}

// MetadataAfterCursor returns up to count live edges following cursor, or
// from the start of the segment when cursor is empty.
func (s *Segment) MetadataAfterCursor(count int, cursor string) (Metadata, error) {
	var out Metadata
	if s.count == 0 {
		return out, nil
	}
	current := s.minIndex
	if cursor != "" {
		i, ok := s.indexForCursor(cursor)
		if !ok {
			return out, fmt.Errorf("%w: %s", ErrCursorNotFound, cursor)
		}
		current = i + 1
	}
	for total := 0; current <= s.maxIndex && total < count; current++ {
		if m := s.edgeAt(current); m != nil {
			out.EdgeIDs = append(out.EdgeIDs, m.edgeID)
			out.Cursors = append(out.Cursors, m.cursor)
			total++
		}
	}
	return out, nil
}

// MetadataBeforeCursor returns up to count live edges preceding cursor, or
// ending at the end of the segment when cursor is empty.
func (s *Segment) MetadataBeforeCursor(count int, cursor string) (Metadata, error) {
	var out Metadata
	if s.count == 0 {
		return out, nil
	}
	current := s.maxIndex
	if cursor != "" {
		i, ok := s.indexForCursor(cursor)
		if !ok {
			return out, fmt.Errorf("%w: %s", ErrCursorNotFound, cursor)
		}
		current = i - 1
	}
	var ids, cursors []string
	for total := 0; current >= s.minIndex && total < count; current-- {
		if m := s.edgeAt(current); m != nil {
			ids = append(ids, m.edgeID)
			cursors = append(cursors, m.cursor)
			total++
		}
	}
	for i := len(ids) - 1; i >= 0; i-- {
		out.EdgeIDs = append(out.EdgeIDs, ids[i])
		out.Cursors = append(out.Cursors, cursors[i])
	}
	return out, nil
}

func (s *Segment) addEdgeAtIndex(e Edge, index int) error {
	if i, ok := s.indexForID(e.ID); ok && s.edgeAt(i) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateEdge, e.ID)
	}
	switch {
	case !s.hasIndices:
		s.minIndex, s.maxIndex, s.hasIndices = index, index, true
	case s.minIndex == index+1:
		s.minIndex = index
	case s.maxIndex == index-1:
		s.maxIndex = index
	default:
		return fmt.Errorf("%w: %d outside (%d, %d)", ErrNoncontiguous, index, s.minIndex, s.maxIndex)
	}
	s.indexToMetadata[index] = &edgeMetadata{edgeID: e.ID, cursor: e.Cursor}
	s.idToIndices[e.ID] = append([]int{index}, s.idToIndices[e.ID]...)
	s.count++
	if e.Cursor != "" {
		s.cursorToIndex[e.Cursor] = index
	}
	return nil
}

// PrependEdge adds e before the first index.
func (s *Segment) PrependEdge(e Edge) error {
	index := 0
	if s.hasIndices {
		index = s.minIndex - 1
	}
	return s.addEdgeAtIndex(e, index)
}

// AppendEdge adds e after the last index.
func (s *Segment) AppendEdge(e Edge) error {
	index := 0
	if s.hasIndices {
		index = s.maxIndex + 1
	}
	return s.addEdgeAtIndex(e, index)
}

// AddEdgesAfterCursor inserts edges after the edge carrying cursor, or at
// the start of the segment when cursor is empty. Deleted edges
// directly after the cursor are skipped over. Edges already live in the
// segment are skipped and returned.
func (s *Segment) AddEdgesAfterCursor(edges []Edge, cursor string) (skipped []string, err error) {
	if len(edges) == 0 {
		return nil, nil
	}
	index := -1
	if cursor != "" {
		i, ok := s.indexForCursor(cursor)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCursorNotFound, cursor)
		}
		index = i
	} else if s.hasIndices {
		index = s.minIndex - 1
	}
	return s.addEdgesAfterIndex(edges, index)
}

// AppendEdges inserts edges after the last index, whatever its cursor.
func (s *Segment) AppendEdges(edges []Edge) (skipped []string, err error) {
	index := -1
	if s.hasIndices {
		index = s.maxIndex
	}
	return s.addEdgesAfterIndex(edges, index)
}

func (s *Segment) addEdgesAfterIndex(edges []Edge, index int) ([]string, error) {
	for s.hasIndices && index < s.maxIndex && index+1 >= s.minIndex && s.indexToMetadata[index+1].deleted {
		index++
	}
	var skipped []string
	next := index + 1
	for _, e := range edges {
		if err := s.addEdgeAtIndex(e, next); err != nil {
			if isDuplicate(err) {
				skipped = append(skipped, e.ID)
				continue
			}
			return skipped, err
		}
		next++
	}
	return skipped, nil
}

// AddEdgesBeforeCursor inserts edges before the edge carrying cursor, or
// at the end of the segment when cursor is empty.
func (s *Segment) AddEdgesBeforeCursor(edges []Edge, cursor string) (skipped []string, err error) {
	if len(edges) == 0 {
		return nil, nil
	}
	index := 1
	if cursor != "" {
		i, ok := s.indexForCursor(cursor)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCursorNotFound, cursor)
		}
		index = i
	} else if s.hasIndices {
		index = s.maxIndex + 1
	}
	return s.addEdgesBeforeIndex(edges, index)
}

// PrependEdges inserts edges before the first index, whatever its cursor.
func (s *Segment) PrependEdges(edges []Edge) (skipped []string, err error) {
	index := 1
	if s.hasIndices {
		index = s.minIndex
	}
	return s.addEdgesBeforeIndex(edges, index)
}

func (s *Segment) addEdgesBeforeIndex(edges []Edge, index int) ([]string, error) {
	for s.hasIndices && index > s.minIndex && index-1 <= s.maxIndex && s.indexToMetadata[index-1].deleted {
		index--
	}
	var skipped []string
	prev := index - 1
	for i := len(edges) - 1; i >= 0; i-- {
		if err := s.addEdgeAtIndex(edges[i], prev); err != nil {
			if isDuplicate(err) {
				skipped = append(skipped, edges[i].ID)
				continue
			}
			return skipped, err
		}
		prev--
	}
	return skipped, nil
}

// RemoveEdge flags the live edge id as deleted.
func (s *Segment) RemoveEdge(id string) {
	i, ok := s.indexForID(id)
	if !ok {
		return
	}
	s.remove(s.indexToMetadata[i])
}

// RemoveAllEdges flags every live occurrence of id as deleted.
func (s *Segment) RemoveAllEdges(id string) {
	for _, i := range s.idToIndices[id] {
		s.remove(s.indexToMetadata[i])
	}
}

func (s *Segment) remove(m *edgeMetadata) {
	if m == nil || m.deleted {
		return
	}
	m.deleted = true
	if m.cursor != "" {
		delete(s.cursorToIndex, m.cursor)
	}
	s.count--
}

// ConcatSegment appends the live edges of other. It leaves s unchanged and
// returns false when other holds an edge that is already live in s.
func (s *Segment) ConcatSegment(other *Segment) bool {
	if other.count == 0 {
		return true
	}
	md, _ := other.MetadataAfterCursor(other.count, "")
	for _, id := range md.EdgeIDs {
		if s.ContainsEdgeWithID(id) {
			return false
		}
	}
	for i, id := range md.EdgeIDs {
		if err := s.AppendEdge(Edge{ID: id, Cursor: md.Cursors[i]}); err != nil {
			panic(fmt.Sprintf("rangedata: concat after validation: %v", err))
		}
	}
	return true
}

// EdgeIDs returns the live edge IDs in order.
func (s *Segment) EdgeIDs() []string {
	md, _ := s.MetadataAfterCursor(s.count, "")
	return md.EdgeIDs
}

type jsonMetadata struct {
	EdgeID  string  `json:"edgeID"`
	Cursor  *string `json:"cursor"`
	Deleted bool    `json:"deleted"`
}

// MarshalJSON encodes the segment as
// [indexToMetadata, idToIndices, cursorToIndex, minIndex, maxIndex, count].
func (s *Segment) MarshalJSON() ([]byte, error) {
	metadata := make(map[string]jsonMetadata, len(s.indexToMetadata))
	for i, m := range s.indexToMetadata {
		jm := jsonMetadata{EdgeID: m.edgeID, Deleted: m.deleted}
		if m.cursor != "" {
			c := m.cursor
			jm.Cursor = &c
		}
		metadata[strconv.Itoa(i)] = jm
	}
	var minIndex, maxIndex *int
	if s.hasIndices {
		lo, hi := s.minIndex, s.maxIndex
		minIndex, maxIndex = &lo, &hi
	}
	return json.Marshal([]any{metadata, s.idToIndices, s.cursorToIndex, minIndex, maxIndex, s.count})
}

// UnmarshalJSON restores a segment encoded by MarshalJSON.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 6 {
		return fmt.Errorf("%w: segment has %d elements, want 6", ErrMalformed, len(parts))
	}
	var (
		metadata      map[string]jsonMetadata
		idToIndices   map[string][]int
		cursorToIndex map[string]int
		minIndex      *int
		maxIndex      *int
		count         int
	)
	for i, dst := range []any{&metadata, &idToIndices, &cursorToIndex, &minIndex, &maxIndex, &count} {
		if err := json.Unmarshal(parts[i], dst); err != nil {
			return fmt.Errorf("%w: segment element %d: %v", ErrMalformed, i, err)
		}
	}
	next := NewSegment()
	for key, jm := range metadata {
		i, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("%w: segment index %q", ErrMalformed, key)
		}
		m := &edgeMetadata{edgeID: jm.EdgeID, deleted: jm.Deleted}
		if jm.Cursor != nil {
			m.cursor = *jm.Cursor
		}
		next.indexToMetadata[i] = m
	}
	for id, indices := range idToIndices {
		next.idToIndices[id] = indices
	}
	for c, i := range cursorToIndex {
		next.cursorToIndex[c] = i
	}
	if (minIndex == nil) != (maxIndex == nil) {
		return fmt.Errorf("%w: segment bounds", ErrMalformed)
	}
	if minIndex != nil {
		next.minIndex, next.maxIndex, next.hasIndices = *minIndex, *maxIndex, true
	}
	next.count = count
	*s = *next
	return nil
}

func (s *Segment) String() string {
	md, _ := s.MetadataAfterCursor(s.count, "")
	ids := append([]string(nil), md.EdgeIDs...)
	return fmt.Sprintf("Segment%v", ids)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
