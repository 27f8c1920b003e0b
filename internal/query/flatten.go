package query

import (
	"context"

	"github.com/hanpama/graphcache/internal/ctxlog"
)

// Flatten inlines every fragment beneath n and merges fields that share a
// response key, recursively. Two different fields selected under the same
// response key are logged and the first one wins.
func Flatten(ctx context.Context, n Node) Node {
	if IsNil(n) || !n.CanHaveSubselections() {
		return n
	}
	children := flattenChildren(ctx, n)
	if len(children) == 0 {
		return n
	}
	return Clone(n, children)
}

func flattenChildren(ctx context.Context, n Node) []Node {
	var order []string
	byKey := map[string][]*Field{}
	var collect func(parent Node)
	collect = func(parent Node) {
		for _, child := range parent.Children() {
			switch c := child.(type) {
			case *Fragment:
				collect(c)
			case *Field:
				key := c.ResponseKey()
				prev, seen := byKey[key]
				if !seen {
					order = append(order, key)
				} else if prev[0].StorageKey() != c.StorageKey() {
					ctxlog.FromContext(ctx).Warn("ambiguous alias reuse",
						"response_key", key,
						"kept", prev[0].StorageKey(),
						"dropped", c.StorageKey())
					continue
				}
				byKey[key] = append(byKey[key], c)
			}
		}
	}
	collect(n)

	out := make([]Node, 0, len(order))
	for _, key := range order {
		fields := byKey[key]
		first := fields[0]
		if !first.CanHaveSubselections() {
			if !first.Requisite {
				for _, f := range fields[1:] {
					if f.Requisite {
						first = f
						break
					}
				}
			}
			out = append(out, first)
			continue
		}
		var merged []Node
		for _, f := range fields {
			merged = append(merged, f.Children()...)
		}
		holder := first.clone(merged)
		children := flattenChildren(ctx, holder)
		if len(children) == 0 {
			out = append(out, first)
			continue
		}
		out = append(out, first.clone(children))
	}
	return out
}
