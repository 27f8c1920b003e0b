package query

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Call is one argument of a field or root call, e.g. first: 10.
type Call struct {
	Name  string
	Value any
}

// Range call names understood by connections.
const (
	CallFirst     = "first"
	CallLast      = "last"
	CallAfter     = "after"
	CallBefore    = "before"
	CallSurrounds = "surrounds"
	CallFind      = "find"
)

var rangeCallNames = map[string]struct{}{
	CallFirst:     {},
	CallLast:      {},
	CallAfter:     {},
	CallBefore:    {},
	CallSurrounds: {},
	CallFind:      {},
}

// IsRangeCall reports whether name selects a window of a connection.
func IsRangeCall(name string) bool {
	_, ok := rangeCallNames[name]
	return ok
}

// RangeCalls returns the calls that select a connection window, in order.
func RangeCalls(calls []Call) []Call {
	var out []Call
	for _, c := range calls {
		if IsRangeCall(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// FilterCalls returns the calls that are not range calls, in order.
func FilterCalls(calls []Call) []Call {
	var out []Call
	for _, c := range calls {
		if !IsRangeCall(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// HasRangeCalls reports whether calls can address a range: a count
// (first/last) or a static lookup (surrounds/find).
func HasRangeCalls(calls []Call) bool {
	for _, c := range calls {
		switch c.Name {
		case CallFirst, CallLast, CallSurrounds, CallFind:
			return true
		}
	}
	return false
}

// FindCall returns the first call named name.
func FindCall(calls []Call, name string) (Call, bool) {
	for _, c := range calls {
		if c.Name == name {
			return c, true
		}
	}
	return Call{}, false
}

// CallInt converts a count argument to an int. It accepts the integer and
// float types produced by JSON and GraphQL decoding as well as numeric
// strings.
func CallInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// CallString converts a cursor or identifier argument to a string.
func CallString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case nil:
		return "", false
	}
	return FormatValue(v), true
}

// FormatValue renders a call value canonically. Numbers of any Go type
// render identically, maps render with sorted keys.
func FormatValue(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.FormatInt(int64(n), 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10)
		}
	case []any:
		parts := make([]string, len(n))
		for i, item := range n {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ValuesEqual compares two call values by their canonical rendering.
func ValuesEqual(a, b any) bool {
	return FormatValue(a) == FormatValue(b)
}

// CallsEqual reports whether two call lists have the same names and values
// in the same order.
func CallsEqual(a, b []Call) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !ValuesEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// StorageKey builds the record key for a field name and its arguments.
func StorageKey(name string, calls []Call) string {
	if len(calls) == 0 {
		return name
	}
	sorted := make([]Call, len(calls))
	copy(sorted, calls)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, c := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(FormatValue(c.Value))
	}
	b.WriteByte('}')
	return b.String()
}

// CallsString renders calls in order, e.g. after("x").first(5).
func CallsString(calls []Call) string {
	var b strings.Builder
	for i, c := range calls {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(c.Name)
		b.WriteByte('(')
		b.WriteString(FormatValue(c.Value))
		b.WriteByte(')')
	}
	return b.String()
}
