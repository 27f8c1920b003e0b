package writer

import (
	"context"
	"errors"
	"reflect"

	"github.com/hanpama/graphcache/internal/ctxlog"
	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/rangedata"
	"github.com/hanpama/graphcache/internal/store"
)

// Writer writes payloads into a store.
type Writer struct {
	store   *store.RecordStore
	tracker *store.QueryTracker
	changes *ChangeTracker
	opt     Options
}

// New returns a Writer. tracker may be nil when query nodes need not be
// tracked.
func New(s *store.RecordStore, tracker *store.QueryTracker, changes *ChangeTracker, opts ...Option) *Writer {
	w := &Writer{store: s, tracker: tracker, changes: changes}
	for _, opt := range opts {
		opt(&w.opt)
	}
	if w.changes == nil {
		w.changes = NewChangeTracker()
	}
	return w
}

// Changes returns the tracker the writer reports to.
func (w *Writer) Changes() *ChangeTracker { return w.changes }

type writeState struct {
	recordID string
	// nodeID is the ID to use for a node field directly beneath an edge.
	nodeID string
	data   any
}

// pass is one WritePayload call. The first error stops the walk.
type pass struct {
	*Writer
	ctx context.Context
	v   *query.Visitor[writeState]
	err error
}

func (w *Writer) newPass(ctx context.Context) *pass {
	p := &pass{Writer: w, ctx: ctx}
	p.v = &query.Visitor[writeState]{
		Root:     p.visitRoot,
		Field:    p.visitField,
		Fragment: p.visitFragment,
	}
	return p
}

// WritePayload writes data, the response for node, into the record
// recordID. For a field with selections, data is the object holding the
// field's children and recordID the record they belong to.
func (w *Writer) WritePayload(ctx context.Context, node query.Node, recordID string, data any) error {
	p := w.newPass(ctx)
	st := writeState{recordID: recordID, data: data}
	if f, ok := node.(*query.Field); ok && f.CanHaveSubselections() {
		for _, child := range f.Children() {
			p.v.Visit(child, st)
			if p.err != nil {
				break
			}
		}
		return p.err
	}
	p.v.Visit(node, st)
	return p.err
}

func (p *pass) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *pass) traverse(n query.Node, st writeState) {
	if p.err == nil {
		p.v.Traverse(n, st)
	}
}

func (p *pass) recordCreate(id string) { p.changes.CreateID(id) }
func (p *pass) recordUpdate(id string) { p.changes.UpdateID(id) }

// recordTypeName resolves the type of the record written for node from the
// payload. It returns "" to keep whatever type the store has.
func (p *pass) recordTypeName(node query.Node, data map[string]any) string {
	if p.opt.Optimistic || data == nil {
		return ""
	}
	if name, ok := data[query.FieldTypename].(string); ok && name != "" {
		return name
	}
	switch n := node.(type) {
	case *query.Root:
		if !n.Abstract {
			return n.Type
		}
	case *query.Field:
		if !n.Abstract {
			return n.Type
		}
	}
	return ""
}

func (p *pass) createRecordIfMissing(node query.Node, id string, data map[string]any) {
	state := p.store.GetRecordState(id)
	p.store.PutRecord(id, p.recordTypeName(node, data))
	if state != store.Existent {
		p.recordCreate(id)
	}
	if p.tracker == nil {
		return
	}
	if p.changes.IsNewRecord(id) || p.opt.UpdateTrackedQueries {
		_, isRoot := node.(*query.Root)
		// Client records are refetched through their nearest server parent.
		if isRoot || !store.IsClientID(id) {
			p.tracker.TrackNodeForID(id, node)
		}
	}
}

func (p *pass) visitRoot(_ *query.Visitor[writeState], root *query.Root, st writeState) query.Node {
	if p.err != nil {
		return root
	}
	state := p.store.GetRecordState(st.recordID)
	if st.data == nil {
		if state != store.Nonexistent {
			p.store.DeleteRecord(st.recordID)
			if state == store.Unknown {
				p.recordCreate(st.recordID)
			} else {
				p.recordUpdate(st.recordID)
			}
		}
		return root
	}
	data, ok := st.data.(map[string]any)
	if !ok {
		p.fail(malformed(st.recordID, root.ResponseKey(), "expected an object, got %T", st.data))
		return root
	}
	p.createRecordIfMissing(root, st.recordID, data)
	p.traverse(root, st)
	return root
}

func (p *pass) visitFragment(_ *query.Visitor[writeState], f *query.Fragment, st writeState) query.Node {
	if p.err != nil {
		return f
	}
	if f.Deferred {
		if err := p.store.SetHasDeferredFragmentData(st.recordID, f.CompositeHash()); err != nil {
			p.fail(err)
			return f
		}
		p.recordUpdate(st.recordID)
	}
	// Optimistically created records may not have a concrete type yet.
	if p.opt.Optimistic || f.MatchesType(p.store.GetType(st.recordID)) {
		p.traverse(f, st)
	}
	return f
}

func (p *pass) visitField(_ *query.Visitor[writeState], f *query.Field, st writeState) query.Node {
	if p.err != nil {
		return f
	}
	if p.store.GetRecordState(st.recordID) != store.Existent {
		p.fail(malformed(st.recordID, f.ResponseKey(), "cannot update a record that does not exist"))
		return f
	}
	data, ok := st.data.(map[string]any)
	if !ok {
		p.fail(malformed(st.recordID, f.ResponseKey(), "expected the response to be an object, got %T", st.data))
		return f
	}
	fieldData, present := data[f.ResponseKey()]
	if !present {
		return f
	}
	key := f.StorageKey()
	if fieldData == nil {
		prev, state := p.store.GetValue(st.recordID, key)
		if state != store.Existent || prev.Kind != store.ValueNull {
			if err := p.store.DeleteField(st.recordID, key); err != nil {
				p.fail(err)
				return f
			}
			p.recordUpdate(st.recordID)
		}
		return f
	}

	var err error
	switch {
	case !f.CanHaveSubselections():
		err = p.writeScalar(f, st.recordID, fieldData)
	case f.IsConnection():
		err = p.writeConnection(f, st.recordID, fieldData)
	case f.IsPlural():
		err = p.writePluralLink(f, st.recordID, fieldData)
	default:
		err = p.writeLink(f, st, fieldData)
	}
	if err != nil {
		p.fail(err)
	}
	return f
}

func (p *pass) writeScalar(f *query.Field, recordID string, next any) error {
	key := f.StorageKey()
	prev, state := p.store.GetValue(recordID, key)
	// Always put so the value lands in the writable layer.
	if err := p.store.PutField(recordID, key, next); err != nil {
		return err
	}
	if state == store.Existent && prev.Kind == store.ValueScalar && scalarsEqual(prev.Scalar, next) {
		return nil
	}
	p.recordUpdate(recordID)
	return nil
}

func scalarsEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func (p *pass) writeLink(f *query.Field, st writeState, fieldData any) error {
	key := f.StorageKey()
	data, ok := fieldData.(map[string]any)
	if !ok {
		return malformed(st.recordID, key, "expected an object, got %T", fieldData)
	}
	prevID, _, err := p.store.GetLinkedRecordID(st.recordID, key)
	if err != nil {
		return err
	}
	nextID := ""
	if f.SchemaName == query.FieldNode && st.nodeID != "" {
		nextID = st.nodeID
	} else if id, ok := data[query.FieldID].(string); ok && id != "" {
		nextID = id
	} else if prevID != "" {
		nextID = prevID
	} else {
		nextID = store.GenerateClientID()
	}

	p.createRecordIfMissing(f, nextID, data)
	if err := p.store.PutLinkedRecordID(st.recordID, key, nextID); err != nil {
		return err
	}
	if prevID != nextID {
		p.recordUpdate(st.recordID)
	}
	p.traverse(f, writeState{recordID: nextID, data: data})
	return p.err
}

func (p *pass) writePluralLink(f *query.Field, recordID string, fieldData any) error {
	key := f.StorageKey()
	items, ok := fieldData.([]any)
	if !ok {
		return malformed(recordID, key, "expected an array, got %T", fieldData)
	}
	prevIDs, state, err := p.store.GetLinkedRecordIDs(recordID, key)
	if err != nil {
		return err
	}
	isUpdate := state != store.Existent || prevIDs == nil
	var (
		nextIDs []string
		objects []map[string]any
	)
	for _, item := range items {
		if item == nil {
			continue
		}
		data, ok := item.(map[string]any)
		if !ok {
			return malformed(recordID, key, "expected elements to be objects, got %T", item)
		}
		index := len(nextIDs)
		var prevID string
		if index < len(prevIDs) {
			prevID = prevIDs[index]
		}
		nextID := prevID
		if id, ok := data[query.FieldID].(string); ok && id != "" {
			nextID = id
		} else if nextID == "" {
			nextID = store.GenerateClientID()
		}
		p.createRecordIfMissing(f, nextID, data)
		isUpdate = isUpdate || nextID != prevID
		nextIDs = append(nextIDs, nextID)
		objects = append(objects, data)
	}
	if len(nextIDs) != len(prevIDs) {
		isUpdate = true
	}
	// Link before traversing so nested writes reuse these IDs.
	if err := p.store.PutLinkedRecordIDs(recordID, key, nextIDs); err != nil {
		return err
	}
	for i, id := range nextIDs {
		p.traverse(f, writeState{recordID: id, data: objects[i]})
	}
	if isUpdate {
		p.recordUpdate(recordID)
	}
	return p.err
}

func (p *pass) writeConnection(f *query.Field, recordID string, fieldData any) error {
	key := f.StorageKey()
	data, ok := fieldData.(map[string]any)
	if !ok {
		return malformed(recordID, key, "expected a connection object, got %T", fieldData)
	}
	connectionID, _, err := p.store.GetLinkedRecordID(recordID, key)
	if err != nil {
		return err
	}
	if connectionID == "" {
		connectionID = store.GenerateClientID()
	}
	state := p.store.GetRecordState(connectionID)
	_, edgesInData := data[query.FieldEdges]
	hasEdges := query.FindField(f, query.ScalarField(query.FieldEdges)) != nil || edgesInData

	p.store.PutRecord(connectionID, "")
	if err := p.store.PutLinkedRecordID(recordID, key, connectionID); err != nil {
		return err
	}
	if state != store.Existent {
		p.recordUpdate(recordID)
		p.recordCreate(connectionID)
	}

	// A range exists only once edges were selected. A newer write replaces
	// it only with a higher force index.
	if hasEdges && !p.opt.Optimistic {
		if !p.store.HasRange(connectionID) ||
			(p.opt.ForceIndex > 0 && p.opt.ForceIndex > p.store.GetRangeForceIndex(connectionID)) {
			if err := p.store.PutRange(connectionID, f.Calls, p.opt.ForceIndex); err != nil {
				return err
			}
			p.recordUpdate(connectionID)
		}
	}

	p.traverseConnection(f, f, writeState{recordID: connectionID, data: data})
	return p.err
}

// traverseConnection writes the children of a connection, or of a fragment
// within it. Edges feed the range; page info only describes it.
func (p *pass) traverseConnection(conn *query.Field, n query.Node, st writeState) {
	for _, child := range n.Children() {
		if p.err != nil {
			return
		}
		switch c := child.(type) {
		case *query.Field:
			switch c.SchemaName {
			case query.FieldEdges:
				if err := p.writeEdges(conn, c, st); err != nil {
					p.fail(err)
				}
			case query.FieldPageInfo:
			default:
				p.v.Visit(c, st)
			}
		default:
			p.traverseConnection(conn, c, st)
		}
	}
}

func (p *pass) writeEdges(conn, edges *query.Field, st writeState) error {
	connectionID := st.recordID
	data := st.data.(map[string]any)
	log := ctxlog.FromContext(p.ctx)

	edgesData, ok := data[query.FieldEdges]
	if !ok || edgesData == nil {
		log.Warn("connection response has no edges",
			"connection", conn.StorageKey(), "record", connectionID)
		return nil
	}
	items, ok := edgesData.([]any)
	if !ok {
		return malformed(connectionID, query.FieldEdges, "expected an array, got %T", edgesData)
	}
	if !query.HasRangeCalls(conn.Calls) {
		return malformed(connectionID, conn.StorageKey(), "cannot write edges without first, last or find")
	}

	md, err := p.store.GetRangeMetadata(connectionID, conn.Calls)
	switch {
	case errors.Is(err, rangedata.ErrCursorNotFound):
		log.Warn("range cursor not found", "connection", connectionID, "err", err)
		md, err = &store.RangeMetadata{}, nil
	case err != nil:
		return err
	case md == nil && !p.opt.Optimistic:
		return malformed(connectionID, conn.StorageKey(), "expected a range for the connection")
	case md == nil:
		md = &store.RangeMetadata{}
	}

	var (
		fetched  []rangedata.Edge
		isUpdate bool
		next     int
	)
	for _, item := range items {
		if item == nil {
			continue
		}
		edgeData, ok := item.(map[string]any)
		if !ok {
			return malformed(connectionID, query.FieldEdges, "expected an edge object, got %T", item)
		}
		nodeData := edgeData[query.FieldNode]
		if nodeData == nil {
			continue
		}
		nodeObject, ok := nodeData.(map[string]any)
		if !ok {
			return malformed(connectionID, query.FieldNode, "expected an object, got %T", nodeData)
		}

		var prev *store.RangeEdge
		if next < len(md.FilteredEdges) {
			prev = &md.FilteredEdges[next]
		}
		next++

		// Edge IDs derive from the connection and the node, so a node
		// without an ID reuses the node of the edge at the same position.
		nodeID, _ := nodeObject[query.FieldID].(string)
		if nodeID == "" && prev != nil {
			nodeID = prev.NodeID
		}
		if nodeID == "" {
			nodeID = store.GenerateClientID()
			log.Warn("edge node has no id, generated a client id",
				"connection", connectionID, "node", nodeID)
		}
		edgeID := store.ClientEdgeID(connectionID, nodeID)
		p.createRecordIfMissing(edges, edgeID, nil)

		p.traverse(edges, writeState{recordID: edgeID, nodeID: nodeID, data: edgeData})
		if p.err != nil {
			return p.err
		}
		fetched = append(fetched, rangedata.Edge{ID: edgeID, Cursor: p.edgeCursor(edgeID, edgeData)})
		isUpdate = isUpdate || prev == nil || edgeID != prev.EdgeID
	}

	if p.opt.Optimistic {
		return nil
	}

	pageInfo := parsePageInfo(data[query.FieldPageInfo])
	err = p.store.PutRangeEdges(p.ctx, connectionID, conn.Calls, pageInfo, fetched)
	switch {
	case errors.Is(err, rangedata.ErrCursorNotFound),
		errors.Is(err, rangedata.ErrCursorMismatch),
		errors.Is(err, rangedata.ErrReconcile):
		log.Warn("page not stitched into range",
			"connection", connectionID, "calls", query.CallsString(conn.Calls), "err", err)
		return nil
	case err != nil:
		return err
	}
	if isUpdate {
		p.recordUpdate(connectionID)
	}
	return nil
}

func (p *pass) edgeCursor(edgeID string, edgeData map[string]any) string {
	if c, ok := query.CallString(edgeData[query.FieldCursor]); ok {
		return c
	}
	v, _, _ := p.store.GetField(edgeID, query.FieldCursor)
	c, _ := query.CallString(v)
	return c
}

func parsePageInfo(v any) rangedata.PageInfo {
	var info rangedata.PageInfo
	data, ok := v.(map[string]any)
	if !ok {
		return info
	}
	info.HasNextPage, _ = data[query.FieldHasNext].(bool)
	info.HasPreviousPage, _ = data[query.FieldHasPrevious].(bool)
	info.StartCursor, _ = data["startCursor"].(string)
	info.EndCursor, _ = data["endCursor"].(string)
	return info
}
