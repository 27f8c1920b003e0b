package query

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Well-known schema names.
const (
	FieldID          = "id"
	FieldTypename    = "__typename"
	FieldEdges       = "edges"
	FieldNode        = "node"
	FieldCursor      = "cursor"
	FieldPageInfo    = "pageInfo"
	FieldHasNext     = "hasNextPage"
	FieldHasPrevious = "hasPreviousPage"
)

// Node is a Root, Field or Fragment.
type Node interface {
	Children() []Node
	CanHaveSubselections() bool
	String() string
	clone(children []Node) Node
}

// FieldKind tags what a field selects.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindLinked
	KindPlural
	KindConnection
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindLinked:
		return "linked"
	case KindPlural:
		return "plural"
	case KindConnection:
		return "connection"
	}
	return "FieldKind(" + strconv.Itoa(int(k)) + ")"
}

var nextRootID atomic.Uint64

// Root is a root call and its selections.
type Root struct {
	Name           string // operation name, informational
	FieldName      string
	Alias          string
	IdentifyingArg *Call
	Type           string
	Abstract       bool
	Plural         bool // identifying argument is a list and the payload an array

	id       uint64
	children []Node
}

// With returns a new root carrying r's metadata and the given children.
func (r Root) With(children ...Node) *Root {
	r.children = compact(children)
	r.id = nextRootID.Add(1)
	return &r
}

// ID is unique per constructed root and shared by nothing else.
func (r *Root) ID() uint64 { return r.id }

func (r *Root) Children() []Node { return r.children }

func (r *Root) CanHaveSubselections() bool { return true }

// ResponseKey is the key of the root payload in a response.
func (r *Root) ResponseKey() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.FieldName
}

// IdentifyingValues returns the identifying argument values, one per
// requested record. It returns nil when the root has no identifying argument.
func (r *Root) IdentifyingValues() []any {
	if r.IdentifyingArg == nil || r.IdentifyingArg.Value == nil {
		return nil
	}
	if list, ok := r.IdentifyingArg.Value.([]any); ok {
		return list
	}
	return []any{r.IdentifyingArg.Value}
}

func (r *Root) clone(children []Node) Node {
	next := *r
	next.children = children
	next.id = nextRootID.Add(1)
	return &next
}

func (r *Root) String() string {
	var b strings.Builder
	if r.Alias != "" {
		b.WriteString(r.Alias)
		b.WriteByte(':')
	}
	b.WriteString(r.FieldName)
	if r.IdentifyingArg != nil {
		b.WriteByte('(')
		b.WriteString(r.IdentifyingArg.Name)
		b.WriteByte(':')
		b.WriteString(FormatValue(r.IdentifyingArg.Value))
		b.WriteByte(')')
	}
	writeChildren(&b, r.children)
	return b.String()
}

// Field is a selected field.
type Field struct {
	SchemaName string
	Alias      string
	Calls      []Call
	Kind       FieldKind
	Type       string
	Abstract   bool
	// Requisite fields are always fetched and survive subtraction.
	Requisite bool
	// Generated fields were added by the query builder, not by the author.
	Generated bool

	children []Node
}

// With returns a new field carrying f's metadata and the given children.
// Children of scalar fields are ignored.
func (f Field) With(children ...Node) *Field {
	if f.Kind == KindScalar {
		f.children = nil
	} else {
		f.children = compact(children)
	}
	return &f
}

// ScalarField is shorthand for a scalar field without arguments.
func ScalarField(name string) *Field {
	return Field{SchemaName: name}.With()
}

func (f *Field) Children() []Node { return f.children }

func (f *Field) CanHaveSubselections() bool { return f.Kind != KindScalar }

func (f *Field) IsConnection() bool { return f.Kind == KindConnection }

func (f *Field) IsPlural() bool { return f.Kind == KindPlural }

// ResponseKey is the key of this field in a response object.
func (f *Field) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.SchemaName
}

// StorageKey is the key of this field in a record.
func (f *Field) StorageKey() string {
	if f.Kind == KindConnection {
		return StorageKey(f.SchemaName, FilterCalls(f.Calls))
	}
	return StorageKey(f.SchemaName, f.Calls)
}

// RangeCalls returns the range arguments of a connection field.
func (f *Field) RangeCalls() []Call { return RangeCalls(f.Calls) }

// FilterCalls returns the non-range arguments of the field.
func (f *Field) FilterCalls() []Call { return FilterCalls(f.Calls) }

// WithCalls returns a copy of f with different arguments and the same
// children.
func (f *Field) WithCalls(calls []Call) *Field {
	next := *f
	next.Calls = calls
	return &next
}

// FieldByStorageKey returns the direct child field stored under key.
func (f *Field) FieldByStorageKey(key string) *Field {
	return FieldByStorageKey(f, key)
}

func (f *Field) clone(children []Node) Node {
	next := *f
	next.children = children
	return &next
}

func (f *Field) String() string {
	var b strings.Builder
	if f.Alias != "" {
		b.WriteString(f.Alias)
		b.WriteByte(':')
	}
	b.WriteString(f.SchemaName)
	if len(f.Calls) > 0 {
		b.WriteByte('(')
		for i, c := range f.Calls {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(c.Name)
			b.WriteByte(':')
			b.WriteString(FormatValue(c.Value))
		}
		b.WriteByte(')')
	}
	writeChildren(&b, f.children)
	return b.String()
}

// Fragment groups selections that apply to records of Type.
type Fragment struct {
	Name     string
	Type     string
	Abstract bool
	Deferred bool

	children []Node
}

// With returns a new fragment carrying f's metadata and the given children.
func (f Fragment) With(children ...Node) *Fragment {
	f.children = compact(children)
	return &f
}

func (f *Fragment) Children() []Node { return f.children }

func (f *Fragment) CanHaveSubselections() bool { return true }

// CompositeHash identifies the fragment's shape, including its selections.
func (f *Fragment) CompositeHash() string {
	return strconv.FormatUint(xxhash.Sum64String(f.String()), 36)
}

// MatchesType reports whether the fragment applies to a record of typeName.
// Abstract fragments and records of unknown type always match.
func (f *Fragment) MatchesType(typeName string) bool {
	return typeName == "" || f.Abstract || f.Type == "" || f.Type == typeName
}

func (f *Fragment) clone(children []Node) Node {
	next := *f
	next.children = children
	return &next
}

func (f *Fragment) String() string {
	var b strings.Builder
	b.WriteString("...")
	if f.Name != "" {
		b.WriteString(f.Name)
	}
	if f.Type != "" {
		b.WriteString(" on ")
		b.WriteString(f.Type)
	}
	if f.Deferred {
		b.WriteString(" @defer")
	}
	writeChildren(&b, f.children)
	return b.String()
}

// Clone returns n with children replaced. Nil children are dropped. It
// returns n itself when the children are identical to the current ones and
// nil when no children remain. Nodes that cannot have selections are
// returned unchanged.
func Clone(n Node, children []Node) Node {
	if !n.CanHaveSubselections() {
		return n
	}
	next := compact(children)
	if sameChildren(n.Children(), next) {
		return n
	}
	if len(next) == 0 {
		return nil
	}
	return n.clone(next)
}

// FieldByStorageKey returns the first direct child field of parent stored
// under key.
func FieldByStorageKey(parent Node, key string) *Field {
	for _, child := range parent.Children() {
		if f, ok := child.(*Field); ok && f.StorageKey() == key {
			return f
		}
	}
	return nil
}

// FindField returns the field of parent that matches f by storage key,
// looking through fragments.
func FindField(parent Node, f *Field) *Field {
	key := f.StorageKey()
	var found *Field
	WalkChildren(parent, func(n Node) bool {
		if found != nil {
			return false
		}
		switch c := n.(type) {
		case *Field:
			if c.StorageKey() == key {
				found = c
			}
			return false
		}
		return true
	})
	return found
}

// Fields returns the fields selected directly on parent, looking through
// fragments.
func Fields(parent Node) []*Field {
	var out []*Field
	WalkChildren(parent, func(n Node) bool {
		if f, ok := n.(*Field); ok {
			out = append(out, f)
			return false
		}
		return true
	})
	return out
}

func compact(children []Node) []Node {
	if len(children) == 0 {
		return nil
	}
	out := make([]Node, 0, len(children))
	for _, c := range children {
		if !IsNil(c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sameChildren(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func writeChildren(b *strings.Builder, children []Node) {
	if len(children) == 0 {
		return
	}
	b.WriteByte('{')
	for i, c := range children {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(c.String())
	}
	b.WriteByte('}')
}

// IsNil reports whether n is nil or a typed nil node pointer.
func IsNil(n Node) bool {
	switch v := n.(type) {
	case nil:
		return true
	case *Root:
		return v == nil
	case *Field:
		return v == nil
	case *Fragment:
		return v == nil
	}
	return false
}
