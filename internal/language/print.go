package language

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/hanpama/graphcache/internal/query"
)

// Print renders roots as one anonymous query operation. Fragments are
// printed inline; deferred ones carry @defer.
func Print(roots ...*query.Root) string {
	op := &ast.OperationDefinition{Operation: ast.Query}
	for _, r := range roots {
		f := &ast.Field{Alias: r.Alias, Name: r.FieldName}
		if r.IdentifyingArg != nil {
			f.Arguments = ast.ArgumentList{{Name: r.IdentifyingArg.Name, Value: astValue(r.IdentifyingArg.Value)}}
		}
		f.SelectionSet = selectionSet(r.Children())
		op.SelectionSet = append(op.SelectionSet, f)
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(&ast.QueryDocument{
		Operations: ast.OperationList{op},
	})
	return buf.String()
}

func selectionSet(children []query.Node) ast.SelectionSet {
	var set ast.SelectionSet
	for _, c := range children {
		switch n := c.(type) {
		case *query.Field:
			f := &ast.Field{Alias: n.Alias, Name: n.SchemaName}
			for _, call := range n.Calls {
				f.Arguments = append(f.Arguments, &ast.Argument{Name: call.Name, Value: astValue(call.Value)})
			}
			f.SelectionSet = selectionSet(n.Children())
			set = append(set, f)
		case *query.Fragment:
			frag := &ast.InlineFragment{TypeCondition: n.Type, SelectionSet: selectionSet(n.Children())}
			if n.Deferred {
				frag.Directives = ast.DirectiveList{{Name: "defer"}}
			}
			set = append(set, frag)
		}
	}
	return set
}

func astValue(v any) *ast.Value {
	switch v := v.(type) {
	case nil:
		return &ast.Value{Kind: ast.NullValue, Raw: "null"}
	case string:
		return &ast.Value{Kind: ast.StringValue, Raw: v}
	case bool:
		return &ast.Value{Kind: ast.BooleanValue, Raw: strconv.FormatBool(v)}
	case int, int32, int64:
		return &ast.Value{Kind: ast.IntValue, Raw: fmt.Sprint(v)}
	case float64:
		if n, ok := query.CallInt(v); ok && float64(n) == v {
			return &ast.Value{Kind: ast.IntValue, Raw: strconv.Itoa(n)}
		}
		return &ast.Value{Kind: ast.FloatValue, Raw: strconv.FormatFloat(v, 'g', -1, 64)}
	case []any:
		out := &ast.Value{Kind: ast.ListValue}
		for _, item := range v {
			out.Children = append(out.Children, &ast.ChildValue{Value: astValue(item)})
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := &ast.Value{Kind: ast.ObjectValue}
		for _, k := range keys {
			out.Children = append(out.Children, &ast.ChildValue{Name: k, Value: astValue(v[k])})
		}
		return out
	}
	return &ast.Value{Kind: ast.StringValue, Raw: fmt.Sprint(v)}
}
