// Package diff computes what a query still needs from the network given
// what a record store already holds.
package diff

import (
	"context"

	"github.com/hanpama/graphcache/internal/ctxlog"
	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/store"
)

type differ struct {
	ctx    context.Context
	store  *store.RecordStore
	splits []*query.Root
	err    error
}

// Query returns the queries still needed to read root from s, or nil when
// s answers root completely. What remains of root comes first, followed by
// node(id:) queries for fetched records that miss fields.
//
// A root the store knows nothing about is returned as is.
func Query(ctx context.Context, root *query.Root, s *store.RecordStore) ([]*query.Root, error) {
	d := &differ{ctx: ctx, store: s}
	var out []*query.Root

	values := root.IdentifyingValues()
	if !root.Plural {
		var value any
		if len(values) > 0 {
			value = values[0]
		}
		rest := d.diffRoot(root, value)
		if d.err != nil {
			return nil, d.err
		}
		if rest != nil {
			out = append(out, rest)
		}
		return append(out, d.splits...), nil
	}

	// Plural roots are split: unknown values are fetched together, partly
	// cached ones one by one.
	var missing []any
	for _, value := range values {
		single := withValues(root, []any{value})
		rest := d.diffRoot(single, value)
		if d.err != nil {
			return nil, d.err
		}
		switch rest {
		case nil:
		case single:
			missing = append(missing, value)
		default:
			out = append(out, rest)
		}
	}
	switch {
	case len(missing) == len(values) && len(values) > 0:
		out = append([]*query.Root{root}, out...)
	case len(missing) > 0:
		out = append([]*query.Root{withValues(root, missing)}, out...)
	}
	return append(out, d.splits...), nil
}

func withValues(root *query.Root, values []any) *query.Root {
	next := *root
	next.IdentifyingArg = &query.Call{Name: root.IdentifyingArg.Name, Value: values}
	return next.With(root.Children()...)
}

func (d *differ) diffRoot(root *query.Root, value any) *query.Root {
	id, ok := d.store.DataIDForRoot(root, value)
	if !ok {
		return root
	}
	switch d.store.GetRecordState(id) {
	case store.Unknown:
		return root
	case store.Nonexistent:
		return nil
	}
	return query.AsRoot(d.diffChildren(root, id))
}

// diffChildren returns n with only the selections id is missing, or nil
// when id has everything. Requisite scalars are kept whenever anything
// else is missing.
func (d *differ) diffChildren(n query.Node, id string) query.Node {
	var (
		next    []query.Node
		missing bool
	)
	for _, child := range n.Children() {
		if d.err != nil {
			return nil
		}
		if f, ok := child.(*query.Field); ok && f.Requisite && f.Kind == query.KindScalar {
			next = append(next, f)
			continue
		}
		rest := d.diffChild(child, id)
		if query.IsNil(rest) {
			continue
		}
		missing = true
		next = append(next, rest)
	}
	if !missing {
		return nil
	}
	return query.Clone(n, next)
}

func (d *differ) diffChild(n query.Node, id string) query.Node {
	switch n := n.(type) {
	case *query.Fragment:
		if n.Deferred && !d.store.HasDeferredFragmentData(id, n.CompositeHash()) {
			return n
		}
		if !n.MatchesType(d.store.GetType(id)) {
			return nil
		}
		return d.diffChildren(n, id)
	case *query.Field:
		switch n.Kind {
		case query.KindScalar:
			if d.store.HasFieldKey(id, n.StorageKey()) {
				return nil
			}
			return n
		case query.KindLinked:
			return d.diffLinked(n, id)
		case query.KindPlural:
			return d.diffPlural(n, id)
		case query.KindConnection:
			return d.diffConnection(n, id)
		}
	}
	return n
}

func (d *differ) diffLinked(f *query.Field, id string) query.Node {
	linkedID, state, err := d.store.GetLinkedRecordID(id, f.StorageKey())
	if err != nil {
		d.err = err
		return nil
	}
	if state == store.Unknown {
		return f
	}
	if linkedID == "" {
		return nil
	}
	switch d.store.GetRecordState(linkedID) {
	case store.Unknown:
		return f
	case store.Nonexistent:
		return nil
	}
	return d.diffChildren(f, linkedID)
}

func (d *differ) diffPlural(f *query.Field, id string) query.Node {
	linkedIDs, state, err := d.store.GetLinkedRecordIDs(id, f.StorageKey())
	if err != nil {
		d.err = err
		return nil
	}
	if state == store.Unknown {
		return f
	}
	type partial struct {
		id   string
		rest query.Node
	}
	var parts []partial
	for _, linkedID := range linkedIDs {
		switch d.store.GetRecordState(linkedID) {
		case store.Unknown:
			return f
		case store.Nonexistent:
			continue
		}
		rest := d.diffChildren(f, linkedID)
		if d.err != nil {
			return nil
		}
		if query.IsNil(rest) {
			continue
		}
		if store.IsClientID(linkedID) {
			return f
		}
		parts = append(parts, partial{linkedID, rest})
	}
	for _, p := range parts {
		d.split(p.id, f.Type, p.rest)
	}
	return nil
}

// split refetches the missing selections of a server record by ID.
func (d *differ) split(id, typeName string, rest query.Node) {
	d.splits = append(d.splits, query.Root{
		FieldName:      query.FieldNode,
		IdentifyingArg: &query.Call{Name: query.FieldID, Value: id},
		Type:           typeName,
	}.With(rest.Children()...))
}

func (d *differ) diffConnection(f *query.Field, id string) query.Node {
	connectionID, state, err := d.store.GetLinkedRecordID(id, f.StorageKey())
	if err != nil {
		d.err = err
		return nil
	}
	if state == store.Unknown {
		return f
	}
	if connectionID == "" {
		return nil
	}
	if d.store.GetRecordState(connectionID) != store.Existent {
		return f
	}

	edges := query.FindField(f, query.ScalarField(query.FieldEdges))
	var rest query.Node
	if own := withoutRangeFields(f); own != nil {
		rest = d.diffChildren(own, connectionID)
	}
	if edges == nil {
		return rest
	}
	if !query.HasRangeCalls(f.Calls) {
		return f
	}

	md, err := d.store.GetRangeMetadata(connectionID, f.Calls)
	if err != nil {
		ctxlog.FromContext(d.ctx).Warn("range cannot answer window, refetching",
			"connection", connectionID, "calls", query.CallsString(f.Calls), "err", err)
		return f
	}
	if md == nil {
		return f
	}

	node := query.FindField(edges, query.ScalarField(query.FieldNode))
	edgeSelection := withoutField(edges, query.FieldNode)
	var splits []func()
	for _, e := range md.FilteredEdges {
		if edgeSelection != nil && !query.IsNil(d.diffChildren(edgeSelection, e.EdgeID)) {
			return f
		}
		if node == nil || e.NodeID == "" {
			continue
		}
		switch d.store.GetRecordState(e.NodeID) {
		case store.Unknown:
			return f
		case store.Nonexistent:
			continue
		}
		nodeRest := d.diffChildren(node, e.NodeID)
		if d.err != nil {
			return nil
		}
		if query.IsNil(nodeRest) {
			continue
		}
		if store.IsClientID(e.NodeID) {
			return f
		}
		nodeID := e.NodeID
		splits = append(splits, func() { d.split(nodeID, node.Type, nodeRest) })
	}
	for _, fn := range splits {
		fn()
	}
	if len(md.DiffCalls) > 0 {
		return f.WithCalls(md.DiffCalls)
	}
	return rest
}

// withoutRangeFields drops the edges and page info selected on a
// connection, which its range answers instead of its record.
func withoutRangeFields(conn *query.Field) query.Node {
	var strip func(n query.Node) query.Node
	strip = func(n query.Node) query.Node {
		var next []query.Node
		for _, child := range n.Children() {
			switch c := child.(type) {
			case *query.Field:
				if c.SchemaName == query.FieldEdges || c.SchemaName == query.FieldPageInfo {
					continue
				}
				next = append(next, c)
			case *query.Fragment:
				if rest := strip(c); !query.IsNil(rest) {
					next = append(next, rest)
				}
			}
		}
		return query.Clone(n, next)
	}
	out := strip(conn)
	if query.IsNil(out) {
		return nil
	}
	return out
}

func withoutField(n *query.Field, schemaName string) query.Node {
	var next []query.Node
	for _, child := range n.Children() {
		if f, ok := child.(*query.Field); ok && f.SchemaName == schemaName {
			continue
		}
		next = append(next, child)
	}
	out := query.Clone(n, next)
	if query.IsNil(out) {
		return nil
	}
	return out
}
