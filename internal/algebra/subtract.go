package algebra

import "github.com/hanpama/graphcache/internal/query"

type subtractState struct {
	isEmpty    bool
	subtrahend query.Node
}

// Subtract returns the part of minuend not fetched by subtrahend. It
// returns nil when subtrahend covers all of minuend and minuend itself when
// it covers nothing.
//
// Requisite fields are kept in any non-empty result. Connections are only
// compared with connections called with the same arguments in the same
// order, where a first or last count is covered by a count at least as
// large.
func Subtract(minuend, subtrahend *query.Root) *query.Root {
	if minuend == nil {
		return nil
	}
	if subtrahend == nil {
		return minuend
	}
	state := &subtractState{isEmpty: true, subtrahend: subtrahend}
	diff := subtractor.Visit(minuend, state)
	if state.isEmpty {
		return nil
	}
	return query.AsRoot(diff)
}

var subtractor = &query.Visitor[*subtractState]{
	Root: func(v *query.Visitor[*subtractState], n *query.Root, state *subtractState) query.Node {
		sub, ok := state.subtrahend.(*query.Root)
		if !ok || !canSubtractRoot(n, sub) {
			state.isEmpty = false
			return n
		}
		return subtractChildren(v, n, state)
	},
	Fragment: func(v *query.Visitor[*subtractState], n *query.Fragment, state *subtractState) query.Node {
		return subtractChildren(v, n, state)
	},
	Field: func(v *query.Visitor[*subtractState], n *query.Field, state *subtractState) query.Node {
		var diff query.Node
		switch {
		case !n.CanHaveSubselections():
			diff = subtractScalar(n, state)
		case n.IsConnection():
			diff = subtractConnection(v, n, state)
		default:
			diff = subtractField(v, n, state)
		}
		if query.IsNil(diff) {
			return nil
		}
		if f, ok := diff.(*query.Field); (ok && f.Requisite) || !state.isEmpty {
			return diff
		}
		return nil
	},
}

func subtractChildren(v *query.Visitor[*subtractState], n query.Node, state *subtractState) query.Node {
	children := n.Children()
	next := make([]query.Node, len(children))
	for i, child := range children {
		childState := &subtractState{isEmpty: true, subtrahend: state.subtrahend}
		next[i] = v.Visit(child, childState)
		state.isEmpty = state.isEmpty && childState.isEmpty
	}
	return query.Clone(n, next)
}

func subtractScalar(n *query.Field, state *subtractState) query.Node {
	if query.FindField(state.subtrahend, n) != nil && !n.Requisite {
		return nil
	}
	state.isEmpty = isEmptyField(n)
	return n
}

func subtractConnection(v *query.Visitor[*subtractState], n *query.Field, state *subtractState) query.Node {
	ranges := matchingRangeFields(n, state.subtrahend)
	if len(ranges) == 0 {
		state.isEmpty = isEmptyField(n)
		return n
	}
	var diff query.Node = n
	for _, sub := range ranges {
		fieldState := &subtractState{isEmpty: true, subtrahend: sub}
		diff = subtractChildren(v, diff, fieldState)
		state.isEmpty = fieldState.isEmpty
		if query.IsNil(diff) {
			break
		}
	}
	return diff
}

func subtractField(v *query.Visitor[*subtractState], n *query.Field, state *subtractState) query.Node {
	sub := query.FindField(state.subtrahend, n)
	if sub == nil {
		state.isEmpty = isEmptyField(n)
		return n
	}
	fieldState := &subtractState{isEmpty: true, subtrahend: sub}
	diff := subtractChildren(v, n, fieldState)
	state.isEmpty = fieldState.isEmpty
	return diff
}

// isEmptyField reports whether n selects nothing but unaliased requisite
// fields.
func isEmptyField(n query.Node) bool {
	if f, ok := n.(*query.Field); ok && !f.CanHaveSubselections() {
		return f.Requisite && f.Alias == ""
	}
	for _, child := range n.Children() {
		if !isEmptyField(child) {
			return false
		}
	}
	return true
}

func matchingRangeFields(n *query.Field, subtrahend query.Node) []*query.Field {
	var out []*query.Field
	for _, f := range query.Fields(subtrahend) {
		if canSubtractField(n, f) {
			out = append(out, f)
		}
	}
	return out
}

func canSubtractField(field, sub *query.Field) bool {
	if field.SchemaName != sub.SchemaName || len(field.Calls) != len(sub.Calls) {
		return false
	}
	for i, call := range field.Calls {
		subCall := sub.Calls[i]
		if call.Name != subCall.Name {
			return false
		}
		if call.Name == query.CallFirst || call.Name == query.CallLast {
			a, okA := query.CallInt(call.Value)
			b, okB := query.CallInt(subCall.Value)
			if !okA || !okB || a > b {
				return false
			}
			continue
		}
		if !query.ValuesEqual(call.Value, subCall.Value) {
			return false
		}
	}
	return true
}

func canSubtractRoot(minuend, sub *query.Root) bool {
	return canonicalName(minuend.FieldName) == canonicalName(sub.FieldName) &&
		ContainsRootCall(minuend, sub) && ContainsRootCall(sub, minuend)
}
