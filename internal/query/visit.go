package query

// Visitor folds a query tree with optional per-kind callbacks. A nil
// callback falls back to Traverse. Callbacks return the replacement node,
// the original node to keep it, or nil to remove it.
type Visitor[S any] struct {
	Root     func(v *Visitor[S], n *Root, state S) Node
	Field    func(v *Visitor[S], n *Field, state S) Node
	Fragment func(v *Visitor[S], n *Fragment, state S) Node
}

// Visit dispatches n to the callback for its kind.
func (v *Visitor[S]) Visit(n Node, state S) Node {
	switch n := n.(type) {
	case *Root:
		if v.Root != nil {
			return v.Root(v, n, state)
		}
	case *Field:
		if v.Field != nil {
			return v.Field(v, n, state)
		}
	case *Fragment:
		if v.Fragment != nil {
			return v.Fragment(v, n, state)
		}
	}
	return v.Traverse(n, state)
}

// Traverse visits the children of n with the same state. It returns n when
// no child changed, nil when every child was removed, and a clone sharing
// the unchanged children otherwise.
func (v *Visitor[S]) Traverse(n Node, state S) Node {
	if !n.CanHaveSubselections() {
		return n
	}
	children := n.Children()
	var next []Node
	changed := false
	for _, child := range children {
		out := v.Visit(child, state)
		if IsNil(out) {
			changed = true
			continue
		}
		if out != child {
			changed = true
		}
		next = append(next, out)
	}
	if !changed {
		return n
	}
	return Clone(n, next)
}

// Walk calls fn for n and its descendants in depth-first order. Returning
// false from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if !fn(n) {
		return
	}
	WalkChildren(n, fn)
}

// WalkChildren is Walk over the children of n, excluding n.
func WalkChildren(n Node, fn func(Node) bool) {
	for _, child := range n.Children() {
		Walk(child, fn)
	}
}

// AsRoot converts the result of a transform back to a root. It returns nil
// when the transform removed the root.
func AsRoot(n Node) *Root {
	if IsNil(n) {
		return nil
	}
	return n.(*Root)
}

// AsField converts the result of a transform back to a field.
func AsField(n Node) *Field {
	if IsNil(n) {
		return nil
	}
	return n.(*Field)
}
