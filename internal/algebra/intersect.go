package algebra

import "github.com/hanpama/graphcache/internal/query"

// Intersect returns the part of subject that pattern also selects. Fields
// are matched by schema name. A pattern field without selections of its
// own stands for everything beneath the matching subject field, except
// that a connection accepted by filterUnterminatedRange loses its edges
// and pageInfo. filterUnterminatedRange may be nil.
func Intersect(subject, pattern query.Node, filterUnterminatedRange func(*query.Field) bool) query.Node {
	if filterUnterminatedRange == nil {
		filterUnterminatedRange = func(*query.Field) bool { return false }
	}
	v := &query.Visitor[query.Node]{
		Root: func(v *query.Visitor[query.Node], n *query.Root, p query.Node) query.Node {
			return intersectTraverse(v, n, p, filterUnterminatedRange)
		},
		Field: func(v *query.Visitor[query.Node], n *query.Field, p query.Node) query.Node {
			return intersectTraverse(v, n, p, filterUnterminatedRange)
		},
		Fragment: func(v *query.Visitor[query.Node], n *query.Fragment, p query.Node) query.Node {
			return intersectTraverse(v, n, p, filterUnterminatedRange)
		},
	}
	return v.Visit(subject, pattern)
}

func intersectTraverse(v *query.Visitor[query.Node], subject, pattern query.Node, filter func(*query.Field) bool) query.Node {
	if !subject.CanHaveSubselections() {
		return subject
	}
	if !hasChildren(pattern) {
		if f, ok := subject.(*query.Field); ok && f.IsConnection() && filter(f) {
			return filterRangeFields(f)
		}
		return subject
	}
	patternFields := query.Fields(pattern)
	children := subject.Children()
	next := make([]query.Node, len(children))
	for i, child := range children {
		switch c := child.(type) {
		case *query.Fragment:
			next[i] = v.Visit(c, pattern)
		case *query.Field:
			for _, pf := range patternFields {
				if pf.SchemaName == c.SchemaName {
					next[i] = v.Visit(c, pf)
					break
				}
			}
		}
	}
	return query.Clone(subject, next)
}

// hasChildren reports whether n selects anything the author wrote.
func hasChildren(n query.Node) bool {
	for _, child := range n.Children() {
		if f, ok := child.(*query.Field); ok && f.Generated {
			continue
		}
		return true
	}
	return false
}

var rangeFilter = &query.Visitor[struct{}]{
	Field: func(v *query.Visitor[struct{}], n *query.Field, _ struct{}) query.Node {
		if n.SchemaName == query.FieldEdges || n.SchemaName == query.FieldPageInfo {
			return nil
		}
		return n
	},
}

func filterRangeFields(n *query.Field) query.Node {
	return rangeFilter.Traverse(n, struct{}{})
}
