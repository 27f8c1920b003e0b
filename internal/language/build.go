package language

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/hanpama/graphcache/internal/query"
)

var ErrNoOperation = errors.New("language: operation not found")

// Build validates source against schema and returns one root per top-level
// field of the named operation. operationName may be empty for documents
// with a single operation.
//
// Field kinds come from the schema: lists of composite types are plural,
// composite types are linked, and fields marked @connection or returning a
// type named *Connection with an edges field are connections. The builder
// adds the selections the cache relies on as generated requisite fields:
// id on types that have one, __typename on abstract types, edge cursors and
// page info on connections.
func Build(schema *Schema, source, operationName string, variables map[string]any) ([]*query.Root, error) {
	doc, err := ParseQuery(source)
	if err != nil {
		return nil, err
	}
	if errs := validator.Validate(schema, doc); len(errs) > 0 {
		return nil, errs
	}
	op := doc.Operations.ForName(operationName)
	if op == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoOperation, operationName)
	}
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	for _, def := range op.VariableDefinitions {
		if _, ok := vars[def.Variable]; ok || def.DefaultValue == nil {
			continue
		}
		v, err := def.DefaultValue.Value(nil)
		if err != nil {
			return nil, err
		}
		vars[def.Variable] = v
	}

	b := &builder{schema: schema, vars: vars}
	var roots []*query.Root
	for _, sel := range op.SelectionSet {
		if err := b.collectRoots(op, sel, &roots); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

type builder struct {
	schema *Schema
	vars   map[string]any
}

func (b *builder) collectRoots(op *ast.OperationDefinition, sel ast.Selection, roots *[]*query.Root) error {
	include, err := b.included(directivesOf(sel))
	if err != nil || !include {
		return err
	}
	switch sel := sel.(type) {
	case *ast.Field:
		root, err := b.root(op, sel)
		if err != nil {
			return err
		}
		*roots = append(*roots, root)
	case *ast.InlineFragment:
		for _, child := range sel.SelectionSet {
			if err := b.collectRoots(op, child, roots); err != nil {
				return err
			}
		}
	case *ast.FragmentSpread:
		for _, child := range sel.Definition.SelectionSet {
			if err := b.collectRoots(op, child, roots); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) root(op *ast.OperationDefinition, f *ast.Field) (*query.Root, error) {
	calls, err := b.calls(f.Arguments)
	if err != nil {
		return nil, err
	}
	typeName := f.Definition.Type.Name()
	r := query.Root{
		Name:      op.Name,
		FieldName: f.Name,
		Type:      typeName,
		Abstract:  b.isAbstract(typeName),
	}
	if f.Alias != f.Name {
		r.Alias = f.Alias
	}
	if len(calls) > 0 {
		r.IdentifyingArg = &calls[0]
		if arg := f.Definition.Arguments.ForName(calls[0].Name); arg != nil && arg.Type.Elem != nil {
			r.Plural = true
		}
	}
	children, err := b.selections(f.SelectionSet, typeName)
	if err != nil {
		return nil, err
	}
	return r.With(b.withGenerated(children, typeName, false)...), nil
}

func (b *builder) calls(args ast.ArgumentList) ([]query.Call, error) {
	calls := make([]query.Call, 0, len(args))
	for _, arg := range args {
		v, err := arg.Value.Value(b.vars)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", arg.Name, err)
		}
		calls = append(calls, query.Call{Name: arg.Name, Value: v})
	}
	if len(calls) == 0 {
		return nil, nil
	}
	return calls, nil
}

func directivesOf(sel ast.Selection) ast.DirectiveList {
	switch sel := sel.(type) {
	case *ast.Field:
		return sel.Directives
	case *ast.InlineFragment:
		return sel.Directives
	case *ast.FragmentSpread:
		return sel.Directives
	}
	return nil
}

// included evaluates @skip and @include.
func (b *builder) included(dirs ast.DirectiveList) (bool, error) {
	for _, d := range dirs {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil {
			continue
		}
		v, err := arg.Value.Value(b.vars)
		if err != nil {
			return false, err
		}
		cond, _ := v.(bool)
		if (d.Name == "skip") == cond {
			return false, nil
		}
	}
	return true, nil
}

func (b *builder) isAbstract(typeName string) bool {
	def := b.schema.Types[typeName]
	return def != nil && def.IsAbstractType()
}

func (b *builder) hasField(typeName, field string) bool {
	def := b.schema.Types[typeName]
	return def != nil && def.Fields.ForName(field) != nil
}

func (b *builder) isConnection(f *ast.Field) bool {
	if f.Directives.ForName("connection") != nil {
		return true
	}
	if f.Definition.Type.Elem != nil {
		return false
	}
	name := f.Definition.Type.Name()
	return len(name) > len("Connection") && name[len(name)-len("Connection"):] == "Connection" &&
		b.hasField(name, query.FieldEdges)
}

func (b *builder) selections(set ast.SelectionSet, parentType string) ([]query.Node, error) {
	var out []query.Node
	for _, sel := range set {
		include, err := b.included(directivesOf(sel))
		if err != nil {
			return nil, err
		}
		if !include {
			continue
		}
		var n query.Node
		switch sel := sel.(type) {
		case *ast.Field:
			n, err = b.field(sel)
		case *ast.InlineFragment:
			typeName := sel.TypeCondition
			if typeName == "" {
				typeName = parentType
			}
			n, err = b.fragment("", typeName, sel.Directives, sel.SelectionSet)
		case *ast.FragmentSpread:
			n, err = b.fragment(sel.Name, sel.Definition.TypeCondition, sel.Directives, sel.Definition.SelectionSet)
		}
		if err != nil {
			return nil, err
		}
		if !query.IsNil(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (b *builder) fragment(name, typeName string, dirs ast.DirectiveList, set ast.SelectionSet) (query.Node, error) {
	children, err := b.selections(set, typeName)
	if err != nil {
		return nil, err
	}
	deferred := false
	if d := dirs.ForName("defer"); d != nil {
		deferred = true
		if arg := d.Arguments.ForName("if"); arg != nil {
			v, err := arg.Value.Value(b.vars)
			if err != nil {
				return nil, err
			}
			deferred, _ = v.(bool)
		}
	}
	return query.Fragment{
		Name:     name,
		Type:     typeName,
		Abstract: b.isAbstract(typeName),
		Deferred: deferred,
	}.With(b.withGenerated(children, typeName, false)...), nil
}

func (b *builder) field(f *ast.Field) (query.Node, error) {
	calls, err := b.calls(f.Arguments)
	if err != nil {
		return nil, err
	}
	typeName := f.Definition.Type.Name()
	out := query.Field{
		SchemaName: f.Name,
		Calls:      calls,
		Type:       typeName,
		Abstract:   b.isAbstract(typeName),
		Requisite:  f.Name == query.FieldID || f.Name == query.FieldTypename,
	}
	if f.Alias != f.Name {
		out.Alias = f.Alias
	}
	def := b.schema.Types[typeName]
	switch {
	case def == nil || !def.IsCompositeType():
		out.Kind = query.KindScalar
		return out.With(), nil
	case b.isConnection(f):
		out.Kind = query.KindConnection
	case f.Definition.Type.Elem != nil:
		out.Kind = query.KindPlural
	default:
		out.Kind = query.KindLinked
	}

	children, err := b.selections(f.SelectionSet, typeName)
	if err != nil {
		return nil, err
	}
	return out.With(b.withGenerated(children, typeName, out.Kind == query.KindConnection)...), nil
}

func generated(name string) *query.Field {
	return query.Field{SchemaName: name, Requisite: true, Generated: true}.With()
}

func selects(children []query.Node, name string) bool {
	for _, c := range children {
		if f, ok := c.(*query.Field); ok && f.SchemaName == name && f.Alias == "" && len(f.Calls) == 0 {
			return true
		}
	}
	return false
}

// withGenerated adds the requisite selections of a record of typeName.
func (b *builder) withGenerated(children []query.Node, typeName string, connection bool) []query.Node {
	if connection {
		return b.connectionGenerated(children, typeName)
	}
	var extra []query.Node
	if b.hasField(typeName, query.FieldID) && !selects(children, query.FieldID) {
		extra = append(extra, generated(query.FieldID))
	}
	if b.isAbstract(typeName) && !selects(children, query.FieldTypename) {
		extra = append(extra, generated(query.FieldTypename))
	}
	return append(children, extra...)
}

// connectionGenerated makes sure every edges selection carries a cursor
// and that page info reports both directions, where the schema has them.
func (b *builder) connectionGenerated(children []query.Node, typeName string) []query.Node {
	hasEdges := false
	for i, c := range children {
		f, ok := c.(*query.Field)
		if !ok {
			continue
		}
		switch f.SchemaName {
		case query.FieldEdges:
			hasEdges = true
			if b.hasField(f.Type, query.FieldCursor) && !selects(f.Children(), query.FieldCursor) {
				next := append(append([]query.Node(nil), f.Children()...), generated(query.FieldCursor))
				children[i] = query.Clone(f, next)
			}
		case query.FieldPageInfo:
			next := append([]query.Node(nil), f.Children()...)
			for _, name := range []string{query.FieldHasNext, query.FieldHasPrevious} {
				if !selects(next, name) {
					next = append(next, generated(name))
				}
			}
			children[i] = query.Clone(f, next)
		}
	}
	if hasEdges && b.hasField(typeName, query.FieldPageInfo) && !selects(children, query.FieldPageInfo) {
		children = append(children, query.Field{
			SchemaName: query.FieldPageInfo,
			Kind:       query.KindLinked,
			Type:       "PageInfo",
			Generated:  true,
			Requisite:  true,
		}.With(generated(query.FieldHasNext), generated(query.FieldHasPrevious)))
	}
	return children
}
